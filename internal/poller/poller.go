// Package poller はアップストリーム可用性のポーリングパイプラインを提供する。
// 外部トリガーごとに1回起動し、モデルカタログを並列にフェッチして
// 在庫状態の差分を検知し、変化イベントを下流に流す。
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/vpswatch/internal/model"
	"github.com/hitoshi/vpswatch/internal/provider"
	"github.com/hitoshi/vpswatch/internal/repository"
)

// Breaker はアップストリーム呼び出しを保護するサーキットブレーカーのインターフェース。
type Breaker interface {
	CanCall() bool
	RecordSuccess()
	RecordFailure(reason string)
	RecordInconclusive(reason string)
	Status() model.BreakerSnapshot
}

// StatusUpserter は在庫状態の原子的UPSERTのインターフェース。
type StatusUpserter interface {
	Upsert(ctx context.Context, m model.Model, dc model.Datacenter, status model.Status) (repository.UpsertResult, error)
}

// ChangeEnqueuer は検知された変化に対する通知ジョブ作成のインターフェース。
type ChangeEnqueuer interface {
	EnqueueForChange(ctx context.Context, change model.StatusChange) (int, error)
}

// ChangePublisher はライブ接続への変化イベント配信のインターフェース。
type ChangePublisher interface {
	Publish(events []model.StatusChange)
}

// MetricsRecorder はポーリングメトリクス記録のインターフェース。
type MetricsRecorder interface {
	RecordPollSuccess(m model.Model)
	RecordPollFailure(m model.Model, reason string)
	RecordPollSkipped(m model.Model)
	RecordParseFallback(m model.Model)
	RecordStatusChanges(count int)
	RecordPollLatency(duration time.Duration)
}

// Poller はモデルカタログの並列ポーリングと差分検知を行う。
// 1モデルの失敗は他モデルをブロックも失敗もさせない。
type Poller struct {
	fetcher    provider.AvailabilityFetcher
	statusRepo StatusUpserter
	breaker    Breaker
	enqueuer   ChangeEnqueuer
	publisher  ChangePublisher
	metrics    MetricsRecorder
	logger     *slog.Logger

	fetchTimeout   time.Duration
	maxConcurrency int
}

// New はPollerの新しいインスタンスを生成する。
// fetchTimeoutが0以下の場合はデフォルト値5秒を使用する。
// maxConcurrencyが0以下の場合はモデル数を上限とする。
func New(
	fetcher provider.AvailabilityFetcher,
	statusRepo StatusUpserter,
	breaker Breaker,
	enqueuer ChangeEnqueuer,
	publisher ChangePublisher,
	metrics MetricsRecorder,
	logger *slog.Logger,
	fetchTimeout time.Duration,
	maxConcurrency int,
) *Poller {
	if fetchTimeout <= 0 {
		fetchTimeout = 5 * time.Second
	}
	if maxConcurrency <= 0 {
		maxConcurrency = len(model.AllModels())
	}
	return &Poller{
		fetcher:        fetcher,
		statusRepo:     statusRepo,
		breaker:        breaker,
		enqueuer:       enqueuer,
		publisher:      publisher,
		metrics:        metrics,
		logger:         logger,
		fetchTimeout:   fetchTimeout,
		maxConcurrency: maxConcurrency,
	}
}

// RunOnce はモデルカタログを1回ポーリングし、集計結果を返す。
// semaphoreパターンで並列数を制御する。個別モデルの失敗はサマリーに
// 集計され、バッチ全体を中断しない。
func (p *Poller) RunOnce(ctx context.Context) *model.PollSummary {
	start := time.Now()
	models := model.AllModels()

	p.logger.Info("ポーリングサイクルを開始します",
		slog.Int("model_count", len(models)),
	)

	results := make([]model.ModelResult, len(models))

	sem := make(chan struct{}, p.maxConcurrency)
	var wg sync.WaitGroup

	for i, m := range models {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(idx int, mdl model.Model) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			results[idx] = p.pollModel(ctx, mdl)
		}(i, m)
	}

	wg.Wait()

	summary := &model.PollSummary{
		ModelsChecked: len(models),
		Results:       results,
	}
	for _, r := range results {
		switch {
		case r.Skipped:
			summary.Skipped++
		case r.Error != "":
			summary.Failed++
		case r.LowConfidence:
			summary.Fallback++
		default:
			summary.Successful++
		}
		summary.ChangesDetected += r.Changes
	}

	summary.Duration = time.Since(start)
	summary.DurationMS = summary.Duration.Milliseconds()

	p.metrics.RecordStatusChanges(summary.ChangesDetected)
	p.metrics.RecordPollLatency(summary.Duration)

	p.logger.Info("ポーリングサイクルが完了しました",
		slog.Int("successful", summary.Successful),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("fallback", summary.Fallback),
		slog.Int("changes_detected", summary.ChangesDetected),
		slog.Float64("duration_ms", float64(summary.DurationMS)),
	)

	return summary
}

// pollModel は1モデル分のフェッチ・差分検知・イベント発行を行う。
func (p *Poller) pollModel(ctx context.Context, m model.Model) model.ModelResult {
	result := model.ModelResult{Model: m}

	// ブレーカーOPEN中はHTTP呼び出し自体を行わない。
	// 成功にも失敗にも数えず、スキップとして記録する。
	if !p.breaker.CanCall() {
		result.Skipped = true
		p.metrics.RecordPollSkipped(m)
		p.logger.Info("ブレーカーOPENのためモデルをスキップしました",
			slog.String("model", m.String()),
			slog.String("reason", "breaker open"),
		)
		return result
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	parsed, err := p.fetcher.FetchAvailability(fetchCtx, m)
	if err != nil {
		p.breaker.RecordFailure(err.Error())
		p.metrics.RecordPollFailure(m, err.Error())
		result.Error = err.Error()
		p.logger.Error("モデルのフェッチに失敗しました",
			slog.String("model", m.String()),
			slog.String("error", err.Error()),
		)
		return result
	}

	if parsed.Fallback {
		// 低信頼結果: 既定一覧をout_of_stockとして書き込むが、
		// ブレーカー成功には数えない。HALF_OPENの試行中だった場合は
		// 試行を未解決のまま残さずOPENに戻す
		result.LowConfidence = true
		p.breaker.RecordInconclusive("フォールバックパースのため成否を判定できません")
		p.metrics.RecordParseFallback(m)
		p.logger.Warn("低信頼のフォールバック結果を適用します",
			slog.String("model", m.String()),
			slog.String("strategy", parsed.Strategy),
		)
	} else {
		p.breaker.RecordSuccess()
		p.metrics.RecordPollSuccess(m)
	}

	changes := p.applyEntries(ctx, m, parsed.Entries)
	result.Changes = len(changes)

	if len(changes) > 0 {
		p.dispatchChanges(ctx, changes)
	}

	return result
}

// applyEntries はパース済みペアをUPSERTし、変化したものを収集する。
func (p *Poller) applyEntries(ctx context.Context, m model.Model, entries []provider.Entry) []model.StatusChange {
	var changes []model.StatusChange

	for _, entry := range entries {
		res, err := p.statusRepo.Upsert(ctx, m, entry.Datacenter, entry.Status)
		if err != nil {
			p.logger.Error("在庫状態のUPSERTに失敗しました",
				slog.String("model", m.String()),
				slog.String("datacenter", string(entry.Datacenter)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !res.Changed {
			continue
		}

		change := model.StatusChange{
			Model:      m,
			Datacenter: entry.Datacenter,
			NewStatus:  entry.Status,
			DetectedAt: time.Now(),
		}
		if res.OldStatus != nil {
			change.OldStatus = *res.OldStatus
		}
		changes = append(changes, change)

		p.logger.Info("在庫状態の変化を検知しました",
			slog.String("model", m.String()),
			slog.String("datacenter", string(entry.Datacenter)),
			slog.String("old_status", string(change.OldStatus)),
			slog.String("new_status", string(change.NewStatus)),
		)
	}

	return changes
}

// dispatchChanges は変化イベントを通知キューとブロードキャストハブに流す。
// 下流の失敗はログに記録し、ポーリング自体は失敗させない。
func (p *Poller) dispatchChanges(ctx context.Context, changes []model.StatusChange) {
	for _, change := range changes {
		created, err := p.enqueuer.EnqueueForChange(ctx, change)
		if err != nil {
			p.logger.Error("通知ジョブの作成に失敗しました",
				slog.String("model", change.Model.String()),
				slog.String("datacenter", string(change.Datacenter)),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.logger.Info("通知ジョブを作成しました",
			slog.String("model", change.Model.String()),
			slog.String("datacenter", string(change.Datacenter)),
			slog.String("change_kind", string(change.ChangeKind())),
			slog.Int("created_count", created),
		)
	}

	p.publisher.Publish(changes)
}
