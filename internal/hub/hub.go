// Package hub は在庫変化イベントの接続中コンシューマーへの
// ブロードキャスト配信を提供する。
package hub

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/hitoshi/vpswatch/internal/model"
)

// ErrCapacityExceeded は同時接続数が上限に達している場合にRegisterが返す。
var ErrCapacityExceeded = errors.New("同時接続数が上限に達しています")

// ErrHubClosed はシャットダウン後のRegisterが返す。
var ErrHubClosed = errors.New("ハブは停止済みです")

// DefaultMaxConnections はデフォルトの同時接続数上限。
const DefaultMaxConnections = 1000

// subscriberBuffer は各コンシューマーの送信バッファ長。
// バッファが満杯のコンシューマーはPublish時に切断される。
const subscriberBuffer = 16

// HubMetrics はハブの接続メトリクス記録インターフェース。
type HubMetrics interface {
	RecordHubConnect()
	RecordHubDisconnect()
	RecordHubEviction()
}

// Subscriber は1つの接続中コンシューマーを表す。
// Events() から受信し、切断時は Hub.Unregister を呼ぶ。
type Subscriber struct {
	id     string
	events chan model.StatusChange
	done   chan struct{}
	once   sync.Once
}

// Events はこの購読者へのイベントチャネルを返す。
// ハブが購読者を退去させた場合、チャネルはクローズされる。
func (s *Subscriber) Events() <-chan model.StatusChange {
	return s.events
}

// Done は購読者が退去またはハブ停止で終了した際にクローズされる。
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		close(s.events)
	})
}

// Hub は在庫変化イベントを全購読者へ非ブロッキングで配信する。
// 配信はファイアアンドフォーゲットであり、切断中の変化は再送されない。
// 低速な購読者は退去させ、全体の配信を遅延させない。
type Hub struct {
	mu      sync.Mutex
	subs    map[string]*Subscriber
	maxConn int
	closed  bool
	metrics HubMetrics
	logger  *slog.Logger
}

// New はHubの新しいインスタンスを生成する。
// maxConnが0以下の場合はDefaultMaxConnectionsを使用する。
func New(maxConn int, metrics HubMetrics, logger *slog.Logger) *Hub {
	if maxConn <= 0 {
		maxConn = DefaultMaxConnections
	}
	return &Hub{
		subs:    make(map[string]*Subscriber),
		maxConn: maxConn,
		metrics: metrics,
		logger:  logger,
	}
}

// Register は新しい購読者を登録する。
// 接続数が上限に達している場合はErrCapacityExceededを返す。
func (h *Hub) Register(id string) (*Subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if len(h.subs) >= h.maxConn {
		return nil, ErrCapacityExceeded
	}

	sub := &Subscriber{
		id:     id,
		events: make(chan model.StatusChange, subscriberBuffer),
		done:   make(chan struct{}),
	}
	h.subs[id] = sub
	h.metrics.RecordHubConnect()

	h.logger.Debug("購読者を登録しました",
		slog.String("subscriber_id", id),
		slog.Int("connections", len(h.subs)),
	)

	return sub, nil
}

// Unregister は購読者を登録解除する。未登録のidはno-op。
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	sub.close()
	h.metrics.RecordHubDisconnect()
}

// Publish はイベント列を全購読者へ配信する。
// 送信はバッファへの非ブロッキング書き込みで行い、バッファが満杯の
// 購読者はその場で退去させる。発行側を待たせることはない。
func (h *Hub) Publish(events []model.StatusChange) {
	if len(events) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	for _, evt := range events {
		for id, sub := range h.subs {
			select {
			case sub.events <- evt:
			default:
				// バッファ満杯の低速コンシューマーは退去させる
				delete(h.subs, id)
				sub.close()
				h.metrics.RecordHubEviction()
				h.logger.Warn("低速な購読者を退去させました",
					slog.String("subscriber_id", id),
				)
			}
		}
	}
}

// ConnectionCount は現在の接続数を返す。
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close は全購読者を切断しハブを停止する。以後のRegisterは失敗する。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.close()
		h.metrics.RecordHubDisconnect()
	}
}
