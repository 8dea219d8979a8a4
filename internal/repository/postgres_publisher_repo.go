package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/blogdigest/internal/model"
)

// PostgresPublisherRepo はPostgreSQLを使用したパブリッシャーリポジトリ。
type PostgresPublisherRepo struct {
	db DBTX
}

var _ PublisherRepository = (*PostgresPublisherRepo)(nil)

// NewPostgresPublisherRepo はPostgresPublisherRepoを生成する。
func NewPostgresPublisherRepo(db DBTX) *PostgresPublisherRepo {
	return &PostgresPublisherRepo{db: db}
}

const publisherColumns = `id, name, type, last_scraped_at, created_at`

func scanPublisher(row rowScanner) (*model.Publisher, error) {
	p := &model.Publisher{}
	var pubType string
	var lastScraped sql.NullTime
	if err := row.Scan(&p.ID, &p.Name, &pubType, &lastScraped, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Type = model.PublisherType(pubType)
	p.LastScrapedAt = nullTimePtr(lastScraped)
	return p, nil
}

// Create は名前が未登録の場合のみパブリッシャーを作成する。
func (r *PostgresPublisherRepo) Create(ctx context.Context, p *model.Publisher) (*model.Publisher, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO publishers (id, name, type, last_scraped_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name) DO NOTHING
		 RETURNING `+publisherColumns,
		p.ID, p.Name, string(p.Type), p.LastScrapedAt, p.CreatedAt,
	)
	created, err := scanPublisher(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("パブリッシャーの作成に失敗しました: %w", err)
	}

	existing, err := r.FindByName(ctx, p.Name)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("パブリッシャーの作成が競合しましたが既存行が見つかりません: %s", p.Name)
	}
	return existing, false, nil
}

// FindByID は指定IDのパブリッシャーを取得する。見つからない場合はnilを返す。
func (r *PostgresPublisherRepo) FindByID(ctx context.Context, id string) (*model.Publisher, error) {
	p, err := scanPublisher(r.db.QueryRowContext(ctx,
		`SELECT `+publisherColumns+` FROM publishers WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("パブリッシャーの取得に失敗しました: %w", err)
	}
	return p, nil
}

// FindByName は名前でパブリッシャーを取得する。見つからない場合はnilを返す。
func (r *PostgresPublisherRepo) FindByName(ctx context.Context, name string) (*model.Publisher, error) {
	p, err := scanPublisher(r.db.QueryRowContext(ctx,
		`SELECT `+publisherColumns+` FROM publishers WHERE name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("名前によるパブリッシャーの検索に失敗しました: %w", err)
	}
	return p, nil
}

// List はパブリッシャー一覧を名前順で返す。
func (r *PostgresPublisherRepo) List(ctx context.Context, pubType model.PublisherType) ([]*model.Publisher, error) {
	var rows *sql.Rows
	var err error
	if pubType == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+publisherColumns+` FROM publishers ORDER BY name ASC`)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+publisherColumns+` FROM publishers WHERE type = $1 ORDER BY name ASC`,
			string(pubType))
	}
	if err != nil {
		return nil, fmt.Errorf("パブリッシャー一覧の取得に失敗しました: %w", err)
	}
	return collectPublishers(rows)
}

// ListScrapeCandidates はアクティブな購読が1件以上あるtechteam種別のパブリッシャーを返す。
// 購読者のいないパブリッシャーは取得対象にしない。
func (r *PostgresPublisherRepo) ListScrapeCandidates(ctx context.Context) ([]*model.Publisher, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.name, p.type, p.last_scraped_at, p.created_at
		 FROM publishers p
		 WHERE p.type = $1
		   AND EXISTS (
		     SELECT 1 FROM subscriptions s
		     WHERE s.publisher_id = p.id AND s.active = true
		   )
		 ORDER BY p.name ASC`,
		string(model.PublisherTypeTechTeam),
	)
	if err != nil {
		return nil, fmt.Errorf("取得対象パブリッシャーの検索に失敗しました: %w", err)
	}
	return collectPublishers(rows)
}

// UpdateLastScrapedAt は取得カーソルを更新する。
func (r *PostgresPublisherRepo) UpdateLastScrapedAt(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE publishers SET last_scraped_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("取得カーソルの更新に失敗しました: %w", err)
	}
	return nil
}

func collectPublishers(rows *sql.Rows) ([]*model.Publisher, error) {
	defer rows.Close()

	var pubs []*model.Publisher
	for rows.Next() {
		p, err := scanPublisher(rows)
		if err != nil {
			return nil, fmt.Errorf("パブリッシャー行の読み取りに失敗しました: %w", err)
		}
		pubs = append(pubs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("パブリッシャー一覧の走査に失敗しました: %w", err)
	}
	return pubs, nil
}
