package notify

import (
	"sync"
	"time"
)

// RateWindowConfig は3層固定ウィンドウの上限を保持する。
type RateWindowConfig struct {
	PerSecond int
	PerMinute int
	PerHour   int
}

// DefaultRateWindowConfig はデフォルトの送信レート上限を返す。
func DefaultRateWindowConfig() RateWindowConfig {
	return RateWindowConfig{
		PerSecond: 10,
		PerMinute: 100,
		PerHour:   500,
	}
}

// window は1つの固定ウィンドウのカウンタを表す。
type window struct {
	length  time.Duration
	limit   int
	count   int
	resetAt time.Time
}

// RateWindows はメール送信の3層固定ウィンドウレートリミッター。
// 秒・分・時間の各ウィンドウはカウントとリセット時刻を持ち、
// 読み取り時にリセット時刻を過ぎていればカウントを0に戻して
// ウィンドウ1つ分先の新しいリセット時刻を設定する。
// スライディングウィンドウではないため、境界でのバーストは既知の近似として許容する。
//
// 並行送信からの検査とインクリメントを単一ロック内で行うため、
// どのウィンドウもカウントが上限を超えることはない。
type RateWindows struct {
	mu      sync.Mutex
	windows []*window

	now func() time.Time // テストで差し替え可能
}

// NewRateWindows はRateWindowsを生成する。
// 上限が0以下のウィンドウは無制限として扱う。
func NewRateWindows(config RateWindowConfig) *RateWindows {
	rw := &RateWindows{now: time.Now}

	specs := []struct {
		length time.Duration
		limit  int
	}{
		{time.Second, config.PerSecond},
		{time.Minute, config.PerMinute},
		{time.Hour, config.PerHour},
	}
	for _, s := range specs {
		if s.limit <= 0 {
			continue
		}
		rw.windows = append(rw.windows, &window{length: s.length, limit: s.limit})
	}

	return rw
}

// Allow は全ウィンドウに余裕がある場合にカウントを予約してtrueを返す。
// いずれかのウィンドウが上限に達している場合は何も消費せずfalseを返す。
// 検査と予約は原子的に行われる。
func (rw *RateWindows) Allow() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	now := rw.now()

	for _, w := range rw.windows {
		w.maybeReset(now)
		if w.count >= w.limit {
			return false
		}
	}
	for _, w := range rw.windows {
		w.count++
	}
	return true
}

// Refund はAllowで予約したカウントを返却する。
// 送信がトランスポート障害で完了しなかった場合に使用する。
func (rw *RateWindows) Refund() {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	now := rw.now()
	for _, w := range rw.windows {
		w.maybeReset(now)
		if w.count > 0 {
			w.count--
		}
	}
}

// maybeReset はリセット時刻を過ぎたウィンドウのカウンタをリセットする。
func (w *window) maybeReset(now time.Time) {
	if w.resetAt.IsZero() || now.After(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(w.length)
	}
}
