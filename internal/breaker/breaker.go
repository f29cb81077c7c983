// Package breaker はアップストリームプロバイダーへの呼び出しを保護する
// サーキットブレーカーを提供する。プロセス内で1インスタンスを共有する。
package breaker

import (
	"sync"
	"time"

	"github.com/hitoshi/vpswatch/internal/model"
)

// State はサーキットブレーカーの状態を表す。
type State int

const (
	// StateClosed は通常運転。呼び出しは許可される。
	StateClosed State = iota
	// StateOpen は遮断中。クールダウン経過まで呼び出しを拒否する。
	StateOpen
	// StateHalfOpen は試行中。1回だけ試行呼び出しが許可されている。
	StateHalfOpen
)

// String は状態の文字列表記を返す。
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker は連続失敗回数に基づいてアップストリーム呼び出しを遮断する。
// 全メソッドは並行呼び出しに対して安全で、状態遷移はミューテックスで直列化される。
// HALF_OPENでは高々1つの試行呼び出しのみが許可を得る。
type CircuitBreaker struct {
	mu sync.Mutex

	state               State
	consecutiveFailures int
	openedAt            time.Time
	lastError           string

	failureThreshold int
	cooldown         time.Duration

	now func() time.Time // テストで差し替え可能
}

// New はCircuitBreakerを生成する。
// thresholdが0以下の場合は5、cooldownが0以下の場合は60秒を使用する。
func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: threshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// CanCall は呼び出しが許可されるかを返す。
// OPENでクールダウンが経過している場合、最初の呼び出し元だけがtrueを受け取り、
// 状態はHALF_OPENに遷移する。HALF_OPENで試行が未完了の間はfalseを返す。
func (cb *CircuitBreaker) CanCall() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cooldown {
			cb.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		// 試行呼び出しが既に1つ出ている
		return false
	default:
		return false
	}
}

// RecordSuccess は呼び出し成功を記録する。
// HALF_OPENの試行成功を含め、状態をCLOSEDに戻しカウンタをリセットする。
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.lastError = ""
}

// RecordFailure は呼び出し失敗を記録する。
// CLOSEDで連続失敗が閾値に達した場合、およびHALF_OPENの試行失敗時に
// OPENへ遷移し、opened_atを現在時刻に設定する（クールダウン再開）。
func (cb *CircuitBreaker) RecordFailure(reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastError = reason

	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.openedAt = cb.now()
		return
	}

	if cb.state == StateClosed && cb.consecutiveFailures >= cb.failureThreshold {
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}
}

// RecordInconclusive は結果を判定できなかった試行呼び出しを記録する。
// HALF_OPENの試行がフォールバックパースなどで成否不明に終わった場合、
// 試行を未解決のまま放置するとCanCallが永久にfalseを返し続けるため、
// OPENに戻してクールダウンを再開する。HALF_OPEN以外では何もしない。
func (cb *CircuitBreaker) RecordInconclusive(reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateHalfOpen {
		return
	}

	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.lastError = reason
}

// Reset はブレーカーを初期状態に戻す。運用リカバリ用の管理操作。
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.openedAt = time.Time{}
	cb.lastError = ""
}

// Status は現在の状態のスナップショットを返す。
func (cb *CircuitBreaker) Status() model.BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	snap := model.BreakerSnapshot{
		State:               cb.state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
		LastError:           cb.lastError,
	}
	if !cb.openedAt.IsZero() {
		t := cb.openedAt
		snap.OpenedAt = &t
	}
	return snap
}
