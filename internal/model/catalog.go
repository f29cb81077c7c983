// Package model はドメインモデルを定義する。
package model

import "fmt"

// Model はVPSハードウェア構成の固定識別子（1〜6）を表す。
type Model int

// MinModel / MaxModel は監視対象モデルの範囲。カタログは起動時に固定される。
const (
	MinModel Model = 1
	MaxModel Model = 6
)

// Valid はモデル番号がカタログ範囲内かを返す。
func (m Model) Valid() bool {
	return m >= MinModel && m <= MaxModel
}

// String は"model-N"形式の表記を返す。ログおよびメトリクスラベル用。
func (m Model) String() string {
	return fmt.Sprintf("model-%d", int(m))
}

// AllModels は監視対象の全モデルを昇順で返す。
func AllModels() []Model {
	models := make([]Model, 0, int(MaxModel-MinModel)+1)
	for m := MinModel; m <= MaxModel; m++ {
		models = append(models, m)
	}
	return models
}

// Datacenter はホスティングリージョンの短縮コードを表す。
type Datacenter string

// 既知のデータセンターコード。
// アップストリームのレスポンスに未知のコードが含まれる場合もそのまま扱うが、
// フォールバック時はDefaultDatacentersを使用する。
const (
	DatacenterGRA Datacenter = "GRA"
	DatacenterSBG Datacenter = "SBG"
	DatacenterBHS Datacenter = "BHS"
	DatacenterWAW Datacenter = "WAW"
	DatacenterDE  Datacenter = "DE"
	DatacenterUK  Datacenter = "UK"
)

// DefaultDatacenters はパース失敗時のフォールバックに使用する固定データセンター一覧。
func DefaultDatacenters() []Datacenter {
	return []Datacenter{
		DatacenterGRA,
		DatacenterSBG,
		DatacenterBHS,
		DatacenterWAW,
		DatacenterDE,
		DatacenterUK,
	}
}

// Status は(model, datacenter)ペアの在庫状態を表す。
type Status string

const (
	// StatusAvailable は在庫ありの状態。
	StatusAvailable Status = "available"
	// StatusOutOfStock は在庫切れの状態。
	StatusOutOfStock Status = "out_of_stock"
)

// Valid は既知の在庫状態かを返す。
func (s Status) Valid() bool {
	return s == StatusAvailable || s == StatusOutOfStock
}
