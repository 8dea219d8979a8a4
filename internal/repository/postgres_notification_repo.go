package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/blogdigest/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知キューリポジトリ。
type PostgresNotificationRepo struct {
	db DBTX
}

var _ NotificationRepository = (*PostgresNotificationRepo)(nil)

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db DBTX) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

const notificationColumns = `n.id, n.subscription_id, n.email, n.heading, n.post_url, n.post_title,
	n.maturity_date, n.deleted, n.created_at, n.delivered_at`

func scanNotification(row rowScanner) (*model.Notification, error) {
	n := &model.Notification{}
	var subID sql.NullString
	var deliveredAt sql.NullTime
	if err := row.Scan(
		&n.ID, &subID, &n.Email, &n.Heading, &n.PostURL, &n.PostTitle,
		&n.MaturityDate, &n.Deleted, &n.CreatedAt, &deliveredAt,
	); err != nil {
		return nil, err
	}
	n.SubscriptionID = nullStringValue(subID)
	n.DeliveredAt = nullTimePtr(deliveredAt)
	return n, nil
}

// InsertIfNoPending は同一(email, post_url)の配信待ち通知が無い場合のみ挿入する。
// 生成ジョブが競合して重複行ができた場合も配信時の重複排除で1件にまとまる。
func (r *PostgresNotificationRepo) InsertIfNoPending(ctx context.Context, n *model.Notification) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, subscription_id, email, heading, post_url, post_title, maturity_date, deleted, created_at)
		 SELECT $1::uuid, $2::uuid, $3::varchar, $4::text, $5::text, $6::text, $7::timestamptz, false, $8::timestamptz
		 WHERE NOT EXISTS (
		   SELECT 1 FROM notifications
		   WHERE email = $3::varchar AND post_url = $5::text AND deleted = false
		 )`,
		n.ID, nullString(n.SubscriptionID), n.Email, n.Heading, n.PostURL, n.PostTitle,
		n.MaturityDate, n.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("通知の挿入に失敗しました: %w", err)
	}
	return affected(res)
}

// ListMature は配信待ちかつmaturity_date <= nowの通知を挿入順で返す。
func (r *PostgresNotificationRepo) ListMature(ctx context.Context, now time.Time) ([]*model.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+notificationColumns+`
		 FROM notifications n
		 LEFT JOIN subscriptions s ON s.id = n.subscription_id
		 WHERE n.deleted = false
		   AND n.maturity_date <= $1
		   AND (s.id IS NULL OR s.active = true)
		 ORDER BY n.seq ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("配信可能な通知の取得に失敗しました: %w", err)
	}
	return collectNotifications(rows)
}

// ListByEmail は指定受信者の通知を配信済みも含めて挿入順で返す。
func (r *PostgresNotificationRepo) ListByEmail(ctx context.Context, email string) ([]*model.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+notificationColumns+`
		 FROM notifications n
		 WHERE n.email = $1
		 ORDER BY n.seq ASC`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("受信者の通知一覧の取得に失敗しました: %w", err)
	}
	return collectNotifications(rows)
}

// MarkDelivered は通知を配信済み（deleted=true）にする。配信済みの行は変更しない。
func (r *PostgresNotificationRepo) MarkDelivered(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications
		 SET deleted = true, delivered_at = $2
		 WHERE id = ANY($1::uuid[]) AND deleted = false`,
		pq.Array(ids), at,
	)
	if err != nil {
		return 0, fmt.Errorf("通知の配信済み更新に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

func collectNotifications(rows *sql.Rows) ([]*model.Notification, error) {
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("通知行の読み取りに失敗しました: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知一覧の走査に失敗しました: %w", err)
	}
	return out, nil
}
