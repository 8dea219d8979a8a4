package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/blogdigest/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresPostRepo struct {
	db DBTX
}

var _ PostRepository = (*PostgresPostRepo)(nil)

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db DBTX) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

const postColumns = `id, publisher_id, url, title, tags, published_at, modified_at, topic, labelled, created_at`

func scanPost(row rowScanner) (*model.Post, error) {
	p := &model.Post{}
	var topic string
	if err := row.Scan(
		&p.ID, &p.PublisherID, &p.URL, &p.Title, pq.Array(&p.Tags),
		&p.PublishedAt, &p.ModifiedAt, &topic, &p.Labelled, &p.CreatedAt,
	); err != nil {
		return nil, err
	}
	p.Topic = model.Topic(topic)
	return p, nil
}

// InsertIfAbsent はURLが未登録の場合のみ記事を作成する。
// 同一URLの行が既にあれば、その行を変更せずに返す。
func (r *PostgresPostRepo) InsertIfAbsent(ctx context.Context, post *model.Post) (*model.Post, bool, error) {
	tags := post.Tags
	if tags == nil {
		tags = []string{}
	}
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO posts (id, publisher_id, url, title, tags, published_at, modified_at, topic, labelled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (url) DO NOTHING
		 RETURNING `+postColumns,
		post.ID, post.PublisherID, post.URL, post.Title, pq.Array(tags),
		post.PublishedAt, post.ModifiedAt, string(post.Topic), post.Labelled, post.CreatedAt,
	)
	stored, err := scanPost(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("記事の挿入に失敗しました: %w", err)
	}

	existing, err := r.FindByURL(ctx, post.URL)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("記事の挿入が競合しましたが既存行が見つかりません: %s", post.URL)
	}
	return existing, false, nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	p, err := scanPost(r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return p, nil
}

// FindByURL はURLで記事を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByURL(ctx context.Context, url string) (*model.Post, error) {
	p, err := scanPost(r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE url = $1`, url))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("URLによる記事の検索に失敗しました: %w", err)
	}
	return p, nil
}

// ListLabelled は(パブリッシャー, トピック)のラベル確定済み記事をmodified_at順で返す。
func (r *PostgresPostRepo) ListLabelled(ctx context.Context, publisherID string, topic model.Topic) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+`
		 FROM posts
		 WHERE publisher_id = $1 AND topic = $2 AND labelled = true
		 ORDER BY modified_at ASC, id ASC`,
		publisherID, string(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("ラベル確定済み記事の取得に失敗しました: %w", err)
	}
	return collectPosts(rows)
}

// ListUnlabelled はラベル未確定の記事を古い順に最大limit件返す。
func (r *PostgresPostRepo) ListUnlabelled(ctx context.Context, limit int) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+`
		 FROM posts
		 WHERE labelled = false
		 ORDER BY created_at ASC, id ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ラベル未確定記事の取得に失敗しました: %w", err)
	}
	return collectPosts(rows)
}

// ListAllLabelled は全てのラベル確定済み記事を返す。
func (r *PostgresPostRepo) ListAllLabelled(ctx context.Context) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE labelled = true ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("学習用記事の取得に失敗しました: %w", err)
	}
	return collectPosts(rows)
}

// Relabel はトピックを確定し、labelled=true、modified_at=atに更新する。
func (r *PostgresPostRepo) Relabel(ctx context.Context, id string, topic model.Topic, at time.Time) (*model.Post, error) {
	p, err := scanPost(r.db.QueryRowContext(ctx,
		`UPDATE posts SET topic = $2, labelled = true, modified_at = $3
		 WHERE id = $1
		 RETURNING `+postColumns,
		id, string(topic), at,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事のラベル更新に失敗しました: %w", err)
	}
	return p, nil
}

func collectPosts(rows *sql.Rows) ([]*model.Post, error) {
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("記事行の読み取りに失敗しました: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の走査に失敗しました: %w", err)
	}
	return posts, nil
}
