package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/vpswatch/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// PostgresJobRepo はPostgreSQLを使用した通知ジョブリポジトリ。
type PostgresJobRepo struct {
	db *sql.DB
}

// NewPostgresJobRepo はPostgresJobRepoを生成する。
func NewPostgresJobRepo(db *sql.DB) *PostgresJobRepo {
	return &PostgresJobRepo{db: db}
}

// CreateIfAbsent はpendingジョブを条件付きで作成する。
// 重複排除は事前チェックではなく部分一意制約
// （notification_jobs_pending_unique）で保証する。
func (r *PostgresJobRepo) CreateIfAbsent(ctx context.Context, job *model.NotificationJob) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_jobs
		     (id, user_id, email, model, datacenter, change_kind, state, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0, now(), now())
		 ON CONFLICT (user_id, model, datacenter, change_kind) WHERE state = 'pending'
		 DO NOTHING`,
		job.ID, job.UserID, job.Email, int(job.Model), string(job.Datacenter), string(job.ChangeKind),
	)
	if err != nil {
		// ON CONFLICT対象外の制約違反（並行トランザクションとの競合など）も
		// 重複扱いにして呼び出し元を失敗させない
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("通知ジョブの作成に失敗しました: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("通知ジョブ作成結果の取得に失敗しました: %w", err)
	}

	return n > 0, nil
}

// ListPending はpendingジョブを作成日時の古い順に最大limit件返す。
func (r *PostgresJobRepo) ListPending(ctx context.Context, limit int) ([]*model.NotificationJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, email, model, datacenter, change_kind, state, attempts,
		        COALESCE(last_error, ''), created_at, updated_at
		 FROM notification_jobs
		 WHERE state = 'pending'
		 ORDER BY created_at
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pendingジョブの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var jobs []*model.NotificationJob
	for rows.Next() {
		job := &model.NotificationJob{}
		if err := rows.Scan(
			&job.ID, &job.UserID, &job.Email, &job.Model, &job.Datacenter,
			&job.ChangeKind, &job.State, &job.Attempts, &job.LastError,
			&job.CreatedAt, &job.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("通知ジョブの読み取りに失敗しました: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知ジョブの走査に失敗しました: %w", err)
	}

	return jobs, nil
}

// MarkSent はジョブをsent状態に遷移させる。
func (r *PostgresJobRepo) MarkSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notification_jobs
		 SET state = 'sent', attempts = attempts + 1, last_error = NULL, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("通知ジョブのsent遷移に失敗しました: %w", err)
	}
	return nil
}

// RecordFailure は送信失敗を記録する。attemptsのインクリメントと
// 状態遷移を単一ステートメントで行う。
func (r *PostgresJobRepo) RecordFailure(ctx context.Context, id string, reason string, maxAttempts int) (model.JobState, error) {
	var state string
	err := r.db.QueryRowContext(ctx,
		`UPDATE notification_jobs
		 SET attempts   = attempts + 1,
		     last_error = $2,
		     state      = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'pending' END,
		     updated_at = now()
		 WHERE id = $1
		 RETURNING state`,
		id, reason, maxAttempts,
	).Scan(&state)
	if err != nil {
		return "", fmt.Errorf("通知ジョブの失敗記録に失敗しました: %w", err)
	}
	return model.JobState(state), nil
}
