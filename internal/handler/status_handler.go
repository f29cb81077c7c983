package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/vpswatch/internal/model"
)

// StatusReader は在庫状態の読み取りインターフェース。
type StatusReader interface {
	ListAll(ctx context.Context) ([]*model.StatusRecord, error)
	ListByModel(ctx context.Context, m model.Model) ([]*model.StatusRecord, error)
}

// StatusHandler は在庫状態照会のHTTPハンドラー。
type StatusHandler struct {
	repo StatusReader
}

// NewStatusHandler はStatusHandlerを生成する。
func NewStatusHandler(repo StatusReader) *StatusHandler {
	return &StatusHandler{repo: repo}
}

// statusRecordResponse は在庫状態のAPIレスポンス。
type statusRecordResponse struct {
	Model       string     `json:"model"`
	Datacenter  string     `json:"datacenter"`
	Status      string     `json:"status"`
	LastChecked time.Time  `json:"last_checked"`
	LastChanged *time.Time `json:"last_changed,omitempty"`
}

// statusListResponse は在庫状態一覧のAPIレスポンス。
type statusListResponse struct {
	Records []statusRecordResponse `json:"records"`
}

// ListStatus は在庫状態の一覧を返す。
// GET /api/status?model=N
//
// modelパラメータ省略時は全モデル分を返す。無効なモデル番号は400で拒否する。
func (h *StatusHandler) ListStatus(w http.ResponseWriter, r *http.Request) {
	var (
		records []*model.StatusRecord
		err     error
	)

	if raw := r.URL.Query().Get("model"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || !model.Model(n).Valid() {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidModelError(raw))
			return
		}
		records, err = h.repo.ListByModel(r.Context(), model.Model(n))
	} else {
		records, err = h.repo.ListAll(r.Context())
	}

	if err != nil {
		writeInternalServerError(w, err)
		return
	}

	resp := statusListResponse{Records: make([]statusRecordResponse, 0, len(records))}
	for _, rec := range records {
		resp.Records = append(resp.Records, statusRecordResponse{
			Model:       rec.Model.String(),
			Datacenter:  string(rec.Datacenter),
			Status:      string(rec.Status),
			LastChecked: rec.LastChecked,
			LastChanged: rec.LastChanged,
		})
	}

	writeJSONResponse(w, http.StatusOK, resp)
}
