package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresWebhookEventRepo はPostgreSQLを使用したWebhook監査ログリポジトリ。
type PostgresWebhookEventRepo struct {
	db *sql.DB
}

// NewPostgresWebhookEventRepo はPostgresWebhookEventRepoを生成する。
func NewPostgresWebhookEventRepo(db *sql.DB) *PostgresWebhookEventRepo {
	return &PostgresWebhookEventRepo{db: db}
}

// Record は受信イベントを記録する。
// 再配信の場合は配信回数を加算し、処理結果を最新の値で上書きする。
func (r *PostgresWebhookEventRepo) Record(ctx context.Context, provider, eventID, eventType, outcome string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_events (provider, event_id, event_type, outcome)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (provider, event_id) DO UPDATE SET
		     delivery_count = webhook_events.delivery_count + 1,
		     outcome = EXCLUDED.outcome,
		     last_seen_at = now()`,
		provider, eventID, eventType, outcome,
	)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

// DeleteSeenBefore は最終受信日時がbeforeより古い監査ログを削除する。
func (r *PostgresWebhookEventRepo) DeleteSeenBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_events WHERE last_seen_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete webhook events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ WebhookEventRepository = (*PostgresWebhookEventRepo)(nil)
