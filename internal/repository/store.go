package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DBTX は*sql.DBと*sql.Txの共通インターフェース。
// リポジトリはトランザクションの内外どちらでも同じ実装で動作する。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repos はパイプラインが使用するリポジトリ一式。
type Repos struct {
	Publishers    PublisherRepository
	Posts         PostRepository
	Subscriptions SubscriptionRepository
	Notifications NotificationRepository
}

// Store はリポジトリ一式と作業単位トランザクションを提供する。
type Store interface {
	// Repos はトランザクション外のリポジトリを返す。
	Repos() Repos

	// InTx はfnを1つのトランザクション内で実行する。
	// fnがnilを返せばコミットし、エラーまたはpanicの場合はロールバックする。
	InTx(ctx context.Context, fn func(r Repos) error) error
}

// PostgresStore はPostgreSQLを使用したStore。
type PostgresStore struct {
	db    *sql.DB
	repos Repos
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, repos: newRepos(db)}
}

func newRepos(db DBTX) Repos {
	return Repos{
		Publishers:    NewPostgresPublisherRepo(db),
		Posts:         NewPostgresPostRepo(db),
		Subscriptions: NewPostgresSubscriptionRepo(db),
		Notifications: NewPostgresNotificationRepo(db),
	}
}

// Repos はトランザクション外のリポジトリを返す。
func (s *PostgresStore) Repos() Repos {
	return s.repos
}

// InTx はfnを1つのトランザクション内で実行する。
func (s *PostgresStore) InTx(ctx context.Context, fn func(r Repos) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	// コミット済みの場合は何もしない
	defer tx.Rollback()

	if err := fn(newRepos(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// Ping はデータベースへの疎通を確認する。
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTimePtr はsql.NullTimeを*time.Timeに変換する。
func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
