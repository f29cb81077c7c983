package model

import "time"

// StatusRecord は(model, datacenter)ペアの現在の在庫状態を表す。
// PollerがStatusRepository経由で作成・更新する。削除されることはない。
type StatusRecord struct {
	Model       Model
	Datacenter  Datacenter
	Status      Status
	LastChecked time.Time
	// LastChanged は状態が反転した最終時刻。初回ポーリング以降一度も
	// 反転していない場合はnil。
	LastChanged *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StatusChange は検知された在庫状態の変化イベントを表す。
// PollerがNotificationQueueとBroadcastHubに流す。
type StatusChange struct {
	Model      Model      `json:"model"`
	Datacenter Datacenter `json:"datacenter"`
	// OldStatus は変更前の状態。既存レコードがない初回検知の場合は空文字列。
	OldStatus  Status    `json:"old_status,omitempty"`
	NewStatus  Status    `json:"new_status"`
	DetectedAt time.Time `json:"detected_at"`
}

// ChangeKind は購読者向けの変化種別を返す。
func (c StatusChange) ChangeKind() ChangeKind {
	if c.NewStatus == StatusAvailable {
		return ChangeBecameAvailable
	}
	return ChangeBecameOutOfStock
}

// ChangeKind は在庫状態の変化種別を表す。
type ChangeKind string

const (
	// ChangeBecameAvailable は在庫切れ→在庫ありへの変化。
	ChangeBecameAvailable ChangeKind = "became_available"
	// ChangeBecameOutOfStock は在庫あり→在庫切れへの変化。
	ChangeBecameOutOfStock ChangeKind = "became_out_of_stock"
)

// Valid は既知の変化種別かを返す。
func (k ChangeKind) Valid() bool {
	return k == ChangeBecameAvailable || k == ChangeBecameOutOfStock
}
