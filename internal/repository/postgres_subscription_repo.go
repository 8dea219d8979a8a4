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

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
type PostgresSubscriptionRepo struct {
	db DBTX
}

var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db DBTX) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

const subscriptionColumns = `id, email, publisher_id, topic, frequency_in_days, joined_time, last_notified_at, active`

func scanSubscription(row rowScanner) (*model.Subscription, error) {
	s := &model.Subscription{}
	var topic string
	var lastNotified sql.NullTime
	if err := row.Scan(
		&s.ID, &s.Email, &s.PublisherID, &topic, &s.FrequencyInDays,
		&s.JoinedTime, &lastNotified, &s.Active,
	); err != nil {
		return nil, err
	}
	s.Topic = model.Topic(topic)
	s.LastNotifiedAt = nullTimePtr(lastNotified)
	return s, nil
}

// Create は(email, publisher_id, topic)が未登録の場合のみ購読を作成する。
func (r *PostgresSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) (*model.Subscription, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO subscriptions (id, email, publisher_id, topic, frequency_in_days, joined_time, last_notified_at, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (email, publisher_id, topic) DO NOTHING
		 RETURNING `+subscriptionColumns,
		sub.ID, sub.Email, sub.PublisherID, string(sub.Topic), sub.FrequencyInDays,
		sub.JoinedTime, sub.LastNotifiedAt, sub.Active,
	)
	created, err := scanSubscription(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("購読の作成に失敗しました: %w", err)
	}

	existing, err := r.FindByKey(ctx, sub.Email, sub.PublisherID, sub.Topic)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("購読の作成が競合しましたが既存行が見つかりません: %s", sub.Email)
	}
	return existing, false, nil
}

// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	return s, nil
}

// FindByKey は(email, publisher_id, topic)で購読を取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByKey(ctx context.Context, email, publisherID string, topic model.Topic) (*model.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions WHERE email = $1 AND publisher_id = $2 AND topic = $3`,
		email, publisherID, string(topic),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読の検索に失敗しました: %w", err)
	}
	return s, nil
}

// ListActive はアクティブな購読を全て返す。
func (r *PostgresSubscriptionRepo) ListActive(ctx context.Context) ([]*model.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions WHERE active = true
		 ORDER BY email ASC, joined_time ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("アクティブな購読の取得に失敗しました: %w", err)
	}
	return collectSubscriptions(rows)
}

// ListActiveByPublisher は指定パブリッシャーのアクティブな購読を返す。
func (r *PostgresSubscriptionRepo) ListActiveByPublisher(ctx context.Context, publisherID string) ([]*model.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions WHERE publisher_id = $1 AND active = true
		 ORDER BY email ASC, joined_time ASC, id ASC`,
		publisherID,
	)
	if err != nil {
		return nil, fmt.Errorf("パブリッシャーの購読一覧の取得に失敗しました: %w", err)
	}
	return collectSubscriptions(rows)
}

// ListByEmail は指定受信者の購読を非アクティブなものも含めて返す。
func (r *PostgresSubscriptionRepo) ListByEmail(ctx context.Context, email string) ([]*model.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions WHERE email = $1
		 ORDER BY topic ASC, joined_time ASC, id ASC`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("受信者の購読一覧の取得に失敗しました: %w", err)
	}
	return collectSubscriptions(rows)
}

// Deactivate は購読を論理削除する。
func (r *PostgresSubscriptionRepo) Deactivate(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET active = false WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("購読の停止に失敗しました: %w", err)
	}
	return affected(res)
}

// Reactivate は購読を再開し、ウォーターマークをatまで進める。
// 既存のウォーターマークがatより新しい場合はそのまま維持する。
func (r *PostgresSubscriptionRepo) Reactivate(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions
		 SET active = true,
		     last_notified_at = GREATEST(COALESCE(last_notified_at, $2), $2)
		 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return false, fmt.Errorf("購読の再開に失敗しました: %w", err)
	}
	return affected(res)
}

// UpdateFrequency は通知間隔を更新する。
func (r *PostgresSubscriptionRepo) UpdateFrequency(ctx context.Context, id string, days int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET frequency_in_days = $2 WHERE id = $1`, id, days)
	if err != nil {
		return false, fmt.Errorf("通知間隔の更新に失敗しました: %w", err)
	}
	return affected(res)
}

// AdvanceWatermark は指定購読のlast_notified_atをatに進める。
func (r *PostgresSubscriptionRepo) AdvanceWatermark(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions
		 SET last_notified_at = $2
		 WHERE id = ANY($1::uuid[])
		   AND (last_notified_at IS NULL OR last_notified_at < $2)`,
		pq.Array(ids), at,
	)
	if err != nil {
		return 0, fmt.Errorf("ウォーターマークの更新に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

func collectSubscriptions(rows *sql.Rows) ([]*model.Subscription, error) {
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("購読行の読み取りに失敗しました: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読一覧の走査に失敗しました: %w", err)
	}
	return subs, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}
