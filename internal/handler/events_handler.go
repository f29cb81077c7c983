package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hitoshi/vpswatch/internal/hub"
	"github.com/hitoshi/vpswatch/internal/model"
)

// EventHub はライブイベント購読のインターフェース。
type EventHub interface {
	Register(id string) (*hub.Subscriber, error)
	Unregister(id string)
}

// EventsHandler は在庫変化イベントのServer-Sent Eventsハンドラー。
// 接続中のクライアントにのみ配信するファイアアンドフォーゲット方式で、
// 切断中のイベントは再送しない。
type EventsHandler struct {
	hub     EventHub
	maxConn int
	logger  *slog.Logger
}

// NewEventsHandler はEventsHandlerを生成する。
func NewEventsHandler(h EventHub, maxConn int, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		hub:     h,
		maxConn: maxConn,
		logger:  logger,
	}
}

// Stream はSSE接続を確立し、在庫変化イベントをストリーミングする。
// GET /api/events
//
// 接続数上限到達時は503を返す。クライアント切断またはハブによる退去で
// 接続を終了し、購読を解除する。
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
			Code:     model.ErrCodeInternal,
			Message:  "ストリーミングに対応していない接続です。",
			Category: "system",
			Action:   "別のクライアントで再接続してください。",
		})
		return
	}

	subID := uuid.NewString()
	sub, err := h.hub.Register(subID)
	if err != nil {
		if errors.Is(err, hub.ErrCapacityExceeded) {
			writeAPIErrorResponse(w, http.StatusServiceUnavailable, model.NewCapacityExceededError(h.maxConn))
			return
		}
		writeInternalServerError(w, err)
		return
	}
	defer h.hub.Unregister(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// 接続確立をクライアントに即時通知する
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				h.logger.Error("イベントのシリアライズに失敗しました",
					slog.String("error", err.Error()),
				)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: status_change\ndata: %s\n\n", payload); err != nil {
				// 書き込み失敗は切断とみなす
				return
			}
			flusher.Flush()
		}
	}
}
