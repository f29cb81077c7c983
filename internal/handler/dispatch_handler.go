package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/vpswatch/internal/model"
	"github.com/hitoshi/vpswatch/internal/notify"
)

// DispatchRunner は通知ディスパッチサイクルの実行インターフェース。
type DispatchRunner interface {
	// Run はpendingジョブを最大batchSize件処理する。
	// batchSizeが0の場合はデフォルト値が適用される。
	Run(ctx context.Context, batchSize int) (*model.ProcessingSummary, error)
}

// DispatchHandler は通知ディスパッチトリガーのHTTPハンドラー。
type DispatchHandler struct {
	dispatcher DispatchRunner
}

// NewDispatchHandler はDispatchHandlerを生成する。
func NewDispatchHandler(dispatcher DispatchRunner) *DispatchHandler {
	return &DispatchHandler{dispatcher: dispatcher}
}

// TriggerDispatch は通知ディスパッチサイクルを実行し集計結果を返す。
// POST /api/cron/dispatch?batch=N
//
// batchパラメータは1〜100の整数。無効な値は一切の副作用の前に400で拒否する。
// 省略時はデフォルトのバッチサイズを使用する。
func (h *DispatchHandler) TriggerDispatch(w http.ResponseWriter, r *http.Request) {
	batchSize := 0
	if raw := r.URL.Query().Get("batch"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > notify.MaxBatchSize {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidBatchSizeError(raw))
			return
		}
		batchSize = n
	}

	summary, err := h.dispatcher.Run(r.Context(), batchSize)
	if err != nil {
		writeInternalServerError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, summary)
}
