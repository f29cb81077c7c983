package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/vpswatch/internal/model"
)

// PollRunner はポーリングサイクルの実行インターフェース。
type PollRunner interface {
	// RunOnce はモデルカタログ全体の在庫確認を1回実行する。
	RunOnce(ctx context.Context) *model.PollSummary
}

// BreakerReader はブレーカー状態の読み取りインターフェース。
type BreakerReader interface {
	Status() model.BreakerSnapshot
}

// PollHandler はポーリングトリガーのHTTPハンドラー。
// 外部スケジューラーからの呼び出しごとに1サイクルを実行する。
type PollHandler struct {
	poller  PollRunner
	breaker BreakerReader
}

// NewPollHandler はPollHandlerを生成する。
func NewPollHandler(poller PollRunner, breaker BreakerReader) *PollHandler {
	return &PollHandler{
		poller:  poller,
		breaker: breaker,
	}
}

// pollResponse はポーリング実行のAPIレスポンス。
type pollResponse struct {
	ModelsChecked   int                   `json:"models_checked"`
	Successful      int                   `json:"successful"`
	Failed          int                   `json:"failed"`
	Skipped         int                   `json:"skipped"`
	Fallback        int                   `json:"fallback"`
	ChangesDetected int                   `json:"changes_detected"`
	DurationMS      int64                 `json:"duration_ms"`
	Results         []model.ModelResult   `json:"results"`
	Breaker         model.BreakerSnapshot `json:"breaker"`
}

// TriggerPoll はポーリングサイクルを実行し集計結果を返す。
// POST /api/cron/poll
//
// 一部のモデルが失敗しても全体は200で返す。部分失敗はresultsと
// breakerフィールドから判別できる。
func (h *PollHandler) TriggerPoll(w http.ResponseWriter, r *http.Request) {
	summary := h.poller.RunOnce(r.Context())

	writeJSONResponse(w, http.StatusOK, pollResponse{
		ModelsChecked:   summary.ModelsChecked,
		Successful:      summary.Successful,
		Failed:          summary.Failed,
		Skipped:         summary.Skipped,
		Fallback:        summary.Fallback,
		ChangesDetected: summary.ChangesDetected,
		DurationMS:      summary.DurationMS,
		Results:         summary.Results,
		Breaker:         h.breaker.Status(),
	})
}
