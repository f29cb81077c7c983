package model

import "time"

// ModelResult は1モデル分のポーリング結果を表す。
type ModelResult struct {
	Model Model `json:"model"`
	// Skipped はサーキットブレーカーOPENによりHTTP呼び出し自体を
	// 行わなかったことを示す。成功/失敗のどちらにも数えない。
	Skipped bool `json:"skipped,omitempty"`
	// LowConfidence はパース失敗によるフォールバック結果であることを示す。
	LowConfidence bool   `json:"low_confidence,omitempty"`
	Error         string `json:"error,omitempty"`
	Changes       int    `json:"changes"`
}

// PollSummary は1回のポーリング実行の集計結果を表す。
// Fallbackは低信頼のフォールバック結果で処理したモデル数。
// Successfulには含めず、劣化をサマリー上で区別する。
type PollSummary struct {
	ModelsChecked   int           `json:"models_checked"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	Skipped         int           `json:"skipped"`
	Fallback        int           `json:"fallback"`
	ChangesDetected int           `json:"changes_detected"`
	Duration        time.Duration `json:"-"`
	DurationMS      int64         `json:"duration_ms"`
	Results         []ModelResult `json:"results"`
}

// ProcessingSummary は1回のディスパッチ実行の集計結果を表す。
// RateLimitedは配信失敗ではなく、次回実行まで持ち越されたジョブ数。
type ProcessingSummary struct {
	Total       int           `json:"total"`
	Sent        int           `json:"sent"`
	Failed      int           `json:"failed"`
	RateLimited int           `json:"rate_limited"`
	Duration    time.Duration `json:"-"`
	DurationMS  int64         `json:"duration_ms"`
	Errors      []string      `json:"errors,omitempty"`
}

// BreakerSnapshot はサーキットブレーカー状態のスナップショットを表す。
// ポーリングサマリーおよび管理エンドポイントのレスポンスに含める。
type BreakerSnapshot struct {
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}
