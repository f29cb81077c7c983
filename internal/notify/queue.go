// Package notify は在庫変化の通知パイプラインを提供する。
// 通知キュー、固定ウィンドウレートリミッター、メール組み立て、
// バッチディスパッチャーを含む。
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/vpswatch/internal/model"
)

// SubscriptionReader はアクティブ購読の解決インターフェース。
type SubscriptionReader interface {
	ListActiveByTarget(ctx context.Context, m model.Model, dc model.Datacenter) ([]*model.Subscription, error)
}

// JobCreator は通知ジョブの条件付き作成インターフェース。
type JobCreator interface {
	CreateIfAbsent(ctx context.Context, job *model.NotificationJob) (bool, error)
}

// Queue は検知された変化から通知ジョブを作成する。
// 重複排除は永続化層の部分一意制約に委ねるため、事前チェックは行わない。
type Queue struct {
	subRepo SubscriptionReader
	jobRepo JobCreator
	logger  *slog.Logger
}

// NewQueue はQueueの新しいインスタンスを生成する。
func NewQueue(subRepo SubscriptionReader, jobRepo JobCreator, logger *slog.Logger) *Queue {
	return &Queue{
		subRepo: subRepo,
		jobRepo: jobRepo,
		logger:  logger,
	}
}

// EnqueueForChange は(model, datacenter)のアクティブ購読者ごとに
// pendingジョブの作成を試み、実際に作成された件数を返す。
// 同一タプルのpendingジョブが既に存在する購読者はスキップされる（no-op）。
func (q *Queue) EnqueueForChange(ctx context.Context, change model.StatusChange) (int, error) {
	subs, err := q.subRepo.ListActiveByTarget(ctx, change.Model, change.Datacenter)
	if err != nil {
		return 0, fmt.Errorf("購読者の解決に失敗しました: %w", err)
	}

	created := 0
	for _, sub := range subs {
		job := &model.NotificationJob{
			ID:         uuid.NewString(),
			UserID:     sub.UserID,
			Email:      sub.Email,
			Model:      change.Model,
			Datacenter: change.Datacenter,
			ChangeKind: change.ChangeKind(),
			State:      model.JobStatePending,
		}

		ok, err := q.jobRepo.CreateIfAbsent(ctx, job)
		if err != nil {
			// 1購読者の失敗で変化全体の通知を止めない
			q.logger.Error("通知ジョブの作成に失敗しました",
				slog.String("user_id", sub.UserID),
				slog.String("model", change.Model.String()),
				slog.String("datacenter", string(change.Datacenter)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			created++
		}
	}

	return created, nil
}
