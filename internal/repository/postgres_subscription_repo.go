package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/vpswatch/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
// 購読の作成・更新は外部の購読管理フローが行うため、読み取りのみを提供する。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// ListActiveByTarget は(model, datacenter)を購読しているアクティブな購読を返す。
func (r *PostgresSubscriptionRepo) ListActiveByTarget(ctx context.Context, m model.Model, dc model.Datacenter) ([]*model.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, email, model, datacenter, is_active, created_at, updated_at
		 FROM subscriptions
		 WHERE model = $1 AND datacenter = $2 AND is_active
		 ORDER BY created_at`,
		int(m), string(dc),
	)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		sub := &model.Subscription{}
		if err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.Email, &sub.Model, &sub.Datacenter,
			&sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("購読の読み取りに失敗しました: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読の走査に失敗しました: %w", err)
	}

	return subs, nil
}
