package model

import "time"

// Subscription はユーザーと(model, datacenter)ペアの購読関係を表す。
// 購読管理フローは外部コラボレーターであり、このコアからは読み取り専用。
type Subscription struct {
	ID         string
	UserID     string
	Email      string
	Model      Model
	Datacenter Datacenter
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// JobState は通知ジョブの処理状態を表す。
type JobState string

const (
	// JobStatePending は送信待ちの状態。
	JobStatePending JobState = "pending"
	// JobStateSent は送信済みの状態。
	JobStateSent JobState = "sent"
	// JobStateFailed は試行上限到達により恒久的に失敗した状態。
	JobStateFailed JobState = "failed"
)

// NotificationJob はEmailDispatcherが処理する通知ジョブを表す。
// 同一の(user, model, datacenter, change_kind)に対してpendingのジョブは
// 常に高々1件（永続化層の部分一意制約で保証）。監査証跡として削除されない。
type NotificationJob struct {
	ID         string
	UserID     string
	Email      string
	Model      Model
	Datacenter Datacenter
	ChangeKind ChangeKind
	State      JobState
	Attempts   int
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
