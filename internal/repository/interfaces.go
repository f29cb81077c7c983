// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/vpswatch/internal/model"
)

// UpsertResult はステータスUPSERTの結果を表す。
type UpsertResult struct {
	// Changed は保存済みの状態と異なる状態が書き込まれたことを示す。
	// 既存レコードがない場合（ベースライン確立）もtrueになる。
	Changed bool
	// OldStatus は変更前の状態。既存レコードがない場合はnil。
	OldStatus *model.Status
}

// StatusRepository は在庫状態の永続化インターフェース。
type StatusRepository interface {
	// Upsert は(model, datacenter)の在庫状態を原子的にUPSERTする。
	// 読み取り→書き込みの2段階に分けず、単一の条件付きステートメントで実行する。
	// last_checkedは毎回、last_changedは状態が反転したときのみ更新される。
	Upsert(ctx context.Context, m model.Model, dc model.Datacenter, status model.Status) (UpsertResult, error)

	// ListAll は全StatusRecordを(model, datacenter)昇順で返す。
	ListAll(ctx context.Context) ([]*model.StatusRecord, error)

	// ListByModel は指定モデルのStatusRecordをdatacenter昇順で返す。
	ListByModel(ctx context.Context, m model.Model) ([]*model.StatusRecord, error)
}

// SubscriptionRepository は購読データの永続化インターフェース。
// 購読の作成・更新は外部の購読管理フローが行うため、このコアでは読み取りのみ。
type SubscriptionRepository interface {
	// ListActiveByTarget は(model, datacenter)を購読しているアクティブな購読を返す。
	ListActiveByTarget(ctx context.Context, m model.Model, dc model.Datacenter) ([]*model.Subscription, error)
}

// NotificationJobRepository は通知ジョブの永続化インターフェース。
type NotificationJobRepository interface {
	// CreateIfAbsent はpendingジョブを条件付きで作成する。
	// 同一の(user, model, datacenter, change_kind)のpendingジョブが既に存在する
	// 場合は何もせずfalseを返す。重複排除は部分一意制約で保証される。
	CreateIfAbsent(ctx context.Context, job *model.NotificationJob) (bool, error)

	// ListPending はpendingジョブを作成日時の古い順に最大limit件返す。
	ListPending(ctx context.Context, limit int) ([]*model.NotificationJob, error)

	// MarkSent はジョブをsent状態に遷移させる。
	MarkSent(ctx context.Context, id string) error

	// RecordFailure は送信失敗を記録する。attemptsをインクリメントし、
	// maxAttemptsに達した場合はfailed、それ以外はpendingのまま維持する。
	// 遷移後の状態を返す。
	RecordFailure(ctx context.Context, id string, reason string, maxAttempts int) (model.JobState, error)
}
