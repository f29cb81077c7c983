package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/vpswatch/internal/model"
)

// JobStore はディスパッチャーが必要とする通知ジョブ操作のインターフェース。
type JobStore interface {
	ListPending(ctx context.Context, limit int) ([]*model.NotificationJob, error)
	MarkSent(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string, reason string, maxAttempts int) (model.JobState, error)
}

// RateLimiter はメール送信レート制限のインターフェース。
type RateLimiter interface {
	// Allow は余裕がある場合にカウントを予約してtrueを返す。
	Allow() bool
	// Refund は送信が完了しなかった場合に予約を返却する。
	Refund()
}

// DispatchMetrics はディスパッチメトリクス記録のインターフェース。
type DispatchMetrics interface {
	RecordEmailSent()
	RecordEmailFailed()
	RecordEmailRateLimited()
}

// DispatcherConfig はディスパッチャーの設定パラメータ。
type DispatcherConfig struct {
	// DefaultBatchSize はバッチサイズ未指定時の値（デフォルト: 50）。
	DefaultBatchSize int
	// MaxParallel はサブバッチの最大並列数（デフォルト: 10）。
	MaxParallel int
	// SubBatchDelay はサブバッチ間の固定遅延（デフォルト: 100ms）。
	SubBatchDelay time.Duration
	// Budget は1回の実行のウォールクロック上限（デフォルト: 5分）。
	// 超過時は残りのジョブをpendingのまま即座に打ち切る。
	Budget time.Duration
	// MaxAttempts はジョブをfailedにする試行回数の上限（デフォルト: 5）。
	MaxAttempts int
}

// MaxBatchSize は1回の実行で処理できるジョブ数の上限。
const MaxBatchSize = 100

// DefaultDispatcherConfig はデフォルトのディスパッチャー設定を返す。
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		DefaultBatchSize: 50,
		MaxParallel:      10,
		SubBatchDelay:    100 * time.Millisecond,
		Budget:           5 * time.Minute,
		MaxAttempts:      5,
	}
}

// Dispatcher はpendingの通知ジョブをレート制限下でバッチ送信する。
// 外部トリガーごとに1回起動し、実行完了または予算超過で返る。
type Dispatcher struct {
	jobs     JobStore
	limiter  RateLimiter
	renderer *MailRenderer
	sender   Sender
	metrics  DispatchMetrics
	logger   *slog.Logger
	config   DispatcherConfig

	now func() time.Time // テストで差し替え可能
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
// 設定のゼロ値はデフォルト値で補完される。
func NewDispatcher(
	jobs JobStore,
	limiter RateLimiter,
	renderer *MailRenderer,
	sender Sender,
	metrics DispatchMetrics,
	logger *slog.Logger,
	config DispatcherConfig,
) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.DefaultBatchSize <= 0 {
		config.DefaultBatchSize = defaults.DefaultBatchSize
	}
	if config.MaxParallel <= 0 {
		config.MaxParallel = defaults.MaxParallel
	}
	if config.SubBatchDelay <= 0 {
		config.SubBatchDelay = defaults.SubBatchDelay
	}
	if config.Budget <= 0 {
		config.Budget = defaults.Budget
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	return &Dispatcher{
		jobs:     jobs,
		limiter:  limiter,
		renderer: renderer,
		sender:   sender,
		metrics:  metrics,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// Run はpendingジョブを最大batchSize件処理し、集計結果を返す。
// batchSizeが0以下の場合はデフォルト値、MaxBatchSize超は上限に丸める。
// ウォールクロック予算はサブバッチ間の協調的キャンセルポイントで確認し、
// 超過時は残りをpendingのまま残す（部分完了はエラーではない）。
func (d *Dispatcher) Run(ctx context.Context, batchSize int) (*model.ProcessingSummary, error) {
	start := d.now()

	if batchSize <= 0 {
		batchSize = d.config.DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	jobs, err := d.jobs.ListPending(ctx, batchSize)
	if err != nil {
		return nil, fmt.Errorf("pendingジョブの取得に失敗しました: %w", err)
	}

	summary := &model.ProcessingSummary{Total: len(jobs)}

	if len(jobs) == 0 {
		summary.Duration = d.now().Sub(start)
		summary.DurationMS = summary.Duration.Milliseconds()
		d.logger.Info("処理対象のpendingジョブはありません")
		return summary, nil
	}

	d.logger.Info("ディスパッチサイクルを開始します",
		slog.Int("job_count", len(jobs)),
		slog.Int("max_parallel", d.config.MaxParallel),
	)

	var mu sync.Mutex // summaryとErrorsの保護

	for offset := 0; offset < len(jobs); offset += d.config.MaxParallel {
		// 予算確認はサブバッチ間でのみ行う（協調的キャンセル）。
		// 最初のサブバッチは必ず実行し、1回の起動で前進を保証する。
		if offset > 0 && d.now().Sub(start) > d.config.Budget {
			d.logger.Warn("ウォールクロック予算を超過したため処理を打ち切ります",
				slog.Int("processed", offset),
				slog.Int("remaining", len(jobs)-offset),
			)
			break
		}
		if offset > 0 {
			// サブバッチ間の固定ペーシング遅延
			select {
			case <-ctx.Done():
				mu.Lock()
				summary.Errors = append(summary.Errors, ctx.Err().Error())
				mu.Unlock()
				offset = len(jobs)
			case <-time.After(d.config.SubBatchDelay):
			}
			if offset >= len(jobs) {
				break
			}
		}

		end := offset + d.config.MaxParallel
		if end > len(jobs) {
			end = len(jobs)
		}

		var wg sync.WaitGroup
		for _, job := range jobs[offset:end] {
			wg.Add(1)
			go func(j *model.NotificationJob) {
				defer wg.Done()
				outcome, errMsg := d.processJob(ctx, j)

				mu.Lock()
				defer mu.Unlock()
				switch outcome {
				case outcomeSent:
					summary.Sent++
				case outcomeFailed:
					summary.Failed++
				case outcomeRateLimited:
					summary.RateLimited++
				}
				if errMsg != "" {
					summary.Errors = append(summary.Errors, errMsg)
				}
			}(job)
		}
		wg.Wait()
	}

	summary.Duration = d.now().Sub(start)
	summary.DurationMS = summary.Duration.Milliseconds()

	d.logger.Info("ディスパッチサイクルが完了しました",
		slog.Int("total", summary.Total),
		slog.Int("sent", summary.Sent),
		slog.Int("failed", summary.Failed),
		slog.Int("rate_limited", summary.RateLimited),
		slog.Float64("duration_ms", float64(summary.DurationMS)),
	)

	return summary, nil
}

// jobOutcome は1ジョブの処理結果の分類。
type jobOutcome int

const (
	outcomeSent jobOutcome = iota
	outcomeFailed
	outcomeRateLimited
)

// processJob は1ジョブの送信を試みる。
// レート制限超過時はジョブをpendingのまま残す（配信失敗ではない）。
// トランスポート失敗時はattemptsを記録し、上限到達でfailedに遷移する。
func (d *Dispatcher) processJob(ctx context.Context, job *model.NotificationJob) (jobOutcome, string) {
	if !d.limiter.Allow() {
		d.metrics.RecordEmailRateLimited()
		return outcomeRateLimited, ""
	}

	subject, body, err := d.renderer.Render(job)
	if err != nil {
		d.limiter.Refund()
		return d.recordFailure(ctx, job, err)
	}

	if err := d.sender.Send(ctx, job.Email, subject, body); err != nil {
		d.limiter.Refund()
		return d.recordFailure(ctx, job, err)
	}

	if err := d.jobs.MarkSent(ctx, job.ID); err != nil {
		// 送信済みだが記録に失敗: ジョブはpendingのまま残り再送される
		// （at-least-once配信の許容範囲）
		d.logger.Error("ジョブのsent遷移に失敗しました",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return outcomeSent, fmt.Sprintf("job %s: %v", job.ID, err)
	}

	d.metrics.RecordEmailSent()
	return outcomeSent, ""
}

// recordFailure は送信失敗をジョブに記録し、結果を分類する。
func (d *Dispatcher) recordFailure(ctx context.Context, job *model.NotificationJob, sendErr error) (jobOutcome, string) {
	d.metrics.RecordEmailFailed()

	state, err := d.jobs.RecordFailure(ctx, job.ID, sendErr.Error(), d.config.MaxAttempts)
	if err != nil {
		d.logger.Error("ジョブの失敗記録に失敗しました",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return outcomeFailed, fmt.Sprintf("job %s: %v", job.ID, sendErr)
	}

	d.logger.Warn("メール送信に失敗しました",
		slog.String("job_id", job.ID),
		slog.String("to", job.Email),
		slog.String("state", string(state)),
		slog.String("error", sendErr.Error()),
	)

	return outcomeFailed, fmt.Sprintf("job %s: %v", job.ID, sendErr)
}
