package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/vpswatch/internal/model"
)

// BreakerController はブレーカーの管理操作インターフェース。
type BreakerController interface {
	Status() model.BreakerSnapshot
	Reset()
	RecordFailure(reason string)
	RecordSuccess()
}

// BreakerHandler はサーキットブレーカーの管理エンドポイントのHTTPハンドラー。
// 運用時の手動復旧と障害時挙動の動作確認に使用する。
type BreakerHandler struct {
	breaker BreakerController
}

// NewBreakerHandler はBreakerHandlerを生成する。
func NewBreakerHandler(breaker BreakerController) *BreakerHandler {
	return &BreakerHandler{breaker: breaker}
}

// breakerActionRequest はブレーカー操作リクエストのボディ。
type breakerActionRequest struct {
	Action string `json:"action"`
}

// breakerActionResponse はブレーカー操作のAPIレスポンス。
type breakerActionResponse struct {
	Action  string                `json:"action"`
	Breaker model.BreakerSnapshot `json:"breaker"`
}

// GetStatus はブレーカーの現在状態を返す。
// GET /api/admin/breaker
func (h *BreakerHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.breaker.Status())
}

// ExecuteAction はブレーカーに管理操作を適用する。
// POST /api/admin/breaker
//
// 操作: reset（CLOSEDへ強制復帰）、test-failure（失敗を1回注入）、
// test-success（成功を1回注入）。未知の操作は400で拒否する。
func (h *BreakerHandler) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	var req breakerActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	switch req.Action {
	case "reset":
		h.breaker.Reset()
	case "test-failure":
		h.breaker.RecordFailure("管理エンドポイントから注入された失敗")
	case "test-success":
		h.breaker.RecordSuccess()
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidActionError(req.Action))
		return
	}

	writeJSONResponse(w, http.StatusOK, breakerActionResponse{
		Action:  req.Action,
		Breaker: h.breaker.Status(),
	})
}
