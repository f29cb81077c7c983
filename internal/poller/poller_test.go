package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/vpswatch/internal/breaker"
	"github.com/hitoshi/vpswatch/internal/model"
	"github.com/hitoshi/vpswatch/internal/provider"
	"github.com/hitoshi/vpswatch/internal/repository"
)

// --- テスト用モック ---

// mockFetcher はテスト用のAvailabilityFetcherモック。
type mockFetcher struct {
	mu        sync.Mutex
	results   map[model.Model]provider.ParseResult
	errs      map[model.Model]error
	callCount int
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		results: make(map[model.Model]provider.ParseResult),
		errs:    make(map[model.Model]error),
	}
}

func (f *mockFetcher) FetchAvailability(_ context.Context, m model.Model) (provider.ParseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	if err, ok := f.errs[m]; ok {
		return provider.ParseResult{}, err
	}
	return f.results[m], nil
}

func (f *mockFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// mockStatusRepo はテスト用のStatusUpserterモック。
// 保存済みの状態と異なる書き込みをchangedとして報告する。
type mockStatusRepo struct {
	mu     sync.Mutex
	stored map[string]model.Status
}

func newMockStatusRepo() *mockStatusRepo {
	return &mockStatusRepo{stored: make(map[string]model.Status)}
}

func (r *mockStatusRepo) Upsert(_ context.Context, m model.Model, dc model.Datacenter, status model.Status) (repository.UpsertResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := m.String() + "|" + string(dc)
	old, exists := r.stored[key]
	r.stored[key] = status

	if !exists {
		return repository.UpsertResult{Changed: true}, nil
	}
	return repository.UpsertResult{Changed: old != status, OldStatus: &old}, nil
}

// seed はテスト用の既存状態を登録する。
func (r *mockStatusRepo) seed(m model.Model, dc model.Datacenter, status model.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored[m.String()+"|"+string(dc)] = status
}

// mockEnqueuer はテスト用のChangeEnqueuerモック。
type mockEnqueuer struct {
	mu      sync.Mutex
	changes []model.StatusChange
}

func (e *mockEnqueuer) EnqueueForChange(_ context.Context, change model.StatusChange) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changes = append(e.changes, change)
	return 1, nil
}

func (e *mockEnqueuer) enqueued() []model.StatusChange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.StatusChange(nil), e.changes...)
}

// mockPublisher はテスト用のChangePublisherモック。
type mockPublisher struct {
	mu     sync.Mutex
	events []model.StatusChange
}

func (p *mockPublisher) Publish(events []model.StatusChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *mockPublisher) published() []model.StatusChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.StatusChange(nil), p.events...)
}

// nopMetrics はテスト用のMetricsRecorder。
type nopMetrics struct{}

func (nopMetrics) RecordPollSuccess(model.Model)         {}
func (nopMetrics) RecordPollFailure(model.Model, string) {}
func (nopMetrics) RecordPollSkipped(model.Model)         {}
func (nopMetrics) RecordParseFallback(model.Model)       {}
func (nopMetrics) RecordStatusChanges(int)               {}
func (nopMetrics) RecordPollLatency(time.Duration)       {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func availableResult(dcs ...model.Datacenter) provider.ParseResult {
	entries := make([]provider.Entry, 0, len(dcs))
	for _, dc := range dcs {
		entries = append(entries, provider.Entry{Datacenter: dc, Status: model.StatusAvailable})
	}
	return provider.ParseResult{Entries: entries, Strategy: "object_datacenters"}
}

func newTestPoller(f *mockFetcher, repo StatusUpserter, cb Breaker, enq *mockEnqueuer, pub *mockPublisher) *Poller {
	return New(f, repo, cb, enq, pub, nopMetrics{}, testLogger(), time.Second, 0)
}

// --- テスト ---

func TestRunOnce_AllModelsSucceed(t *testing.T) {
	fetcher := newMockFetcher()
	for _, m := range model.AllModels() {
		fetcher.results[m] = availableResult("GRA")
	}

	p := newTestPoller(fetcher, newMockStatusRepo(), breaker.New(5, time.Minute), &mockEnqueuer{}, &mockPublisher{})

	summary := p.RunOnce(context.Background())

	if summary.ModelsChecked != 6 {
		t.Errorf("ModelsChecked = %d, want 6", summary.ModelsChecked)
	}
	if summary.Successful != 6 {
		t.Errorf("Successful = %d, want 6", summary.Successful)
	}
	if summary.Failed != 0 || summary.Skipped != 0 {
		t.Errorf("Failed/Skipped = %d/%d, want 0/0", summary.Failed, summary.Skipped)
	}
	// 初回ポーリングはベースライン確立としてすべて変化扱い
	if summary.ChangesDetected != 6 {
		t.Errorf("ChangesDetected = %d, want 6", summary.ChangesDetected)
	}
}

// TestRunOnce_OneModelFailureDoesNotAbortOthers は1モデルの失敗が
// 他モデルの処理を中断しないことを検証する。
func TestRunOnce_OneModelFailureDoesNotAbortOthers(t *testing.T) {
	fetcher := newMockFetcher()
	for _, m := range model.AllModels() {
		fetcher.results[m] = availableResult("GRA")
	}
	fetcher.errs[3] = errors.New("connection refused")

	p := newTestPoller(fetcher, newMockStatusRepo(), breaker.New(10, time.Minute), &mockEnqueuer{}, &mockPublisher{})

	summary := p.RunOnce(context.Background())

	if summary.Successful != 5 {
		t.Errorf("Successful = %d, want 5", summary.Successful)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}

	var failed *model.ModelResult
	for i := range summary.Results {
		if summary.Results[i].Model == 3 {
			failed = &summary.Results[i]
		}
	}
	if failed == nil || failed.Error == "" {
		t.Error("モデル3の結果にエラーが記録されるべき")
	}
}

// TestRunOnce_ChangeDetection は在庫反転の検知と下流への伝搬を検証する。
// モデル3のGRAがout_of_stock→availableに反転するシナリオ。
func TestRunOnce_ChangeDetection(t *testing.T) {
	fetcher := newMockFetcher()
	repo := newMockStatusRepo()
	enq := &mockEnqueuer{}
	pub := &mockPublisher{}

	for _, m := range model.AllModels() {
		// GRAは全モデルで据え置き、モデル3のみ反転させる
		repo.seed(m, "GRA", model.StatusOutOfStock)
		fetcher.results[m] = provider.ParseResult{
			Entries:  []provider.Entry{{Datacenter: "GRA", Status: model.StatusOutOfStock}},
			Strategy: "object_datacenters",
		}
	}
	fetcher.results[3] = availableResult("GRA")

	p := newTestPoller(fetcher, repo, breaker.New(5, time.Minute), enq, pub)

	summary := p.RunOnce(context.Background())

	if summary.ChangesDetected != 1 {
		t.Fatalf("ChangesDetected = %d, want 1", summary.ChangesDetected)
	}

	enqueued := enq.enqueued()
	if len(enqueued) != 1 {
		t.Fatalf("enqueued count = %d, want 1", len(enqueued))
	}
	change := enqueued[0]
	if change.Model != 3 || change.Datacenter != "GRA" {
		t.Errorf("change target = (%v, %s), want (3, GRA)", change.Model, change.Datacenter)
	}
	if change.OldStatus != model.StatusOutOfStock {
		t.Errorf("OldStatus = %q, want %q", change.OldStatus, model.StatusOutOfStock)
	}
	if change.NewStatus != model.StatusAvailable {
		t.Errorf("NewStatus = %q, want %q", change.NewStatus, model.StatusAvailable)
	}
	if change.ChangeKind() != model.ChangeBecameAvailable {
		t.Errorf("ChangeKind = %q, want %q", change.ChangeKind(), model.ChangeBecameAvailable)
	}

	published := pub.published()
	if len(published) != 1 {
		t.Errorf("published count = %d, want 1", len(published))
	}
}

// TestRunOnce_BreakerOpenSkipsWithoutHTTPCall は連続失敗でブレーカーが開いた後、
// 次のポーリングがHTTP呼び出しなしでスキップされることを検証する。
func TestRunOnce_BreakerOpenSkipsWithoutHTTPCall(t *testing.T) {
	fetcher := newMockFetcher()
	for _, m := range model.AllModels() {
		fetcher.errs[m] = errors.New("request timeout")
	}

	cb := breaker.New(5, time.Minute)
	p := newTestPoller(fetcher, newMockStatusRepo(), cb, &mockEnqueuer{}, &mockPublisher{})

	// 1回目: 全モデルが失敗し、5連続失敗でブレーカーが開く
	first := p.RunOnce(context.Background())
	if first.Failed == 0 {
		t.Fatal("1回目のポーリングで失敗が記録されるべき")
	}
	if got := cb.Status().State; got != "OPEN" {
		t.Fatalf("breaker state = %q, want OPEN", got)
	}

	callsAfterFirst := fetcher.calls()

	// 2回目: 全モデルがスキップされ、HTTP呼び出しは発生しない
	second := p.RunOnce(context.Background())
	if second.Skipped != 6 {
		t.Errorf("Skipped = %d, want 6", second.Skipped)
	}
	if second.Failed != 0 || second.Successful != 0 {
		t.Errorf("Failed/Successful = %d/%d, want 0/0", second.Failed, second.Successful)
	}
	if fetcher.calls() != callsAfterFirst {
		t.Errorf("スキップ中にHTTP呼び出しが発生しました: %d -> %d", callsAfterFirst, fetcher.calls())
	}
}

// TestRunOnce_FallbackIsLowConfidence はフォールバック結果が
// 成功として扱われつつブレーカー成功に数えられないことを検証する。
func TestRunOnce_FallbackIsLowConfidence(t *testing.T) {
	fetcher := newMockFetcher()
	fallbackEntries := make([]provider.Entry, 0)
	for _, dc := range model.DefaultDatacenters() {
		fallbackEntries = append(fallbackEntries, provider.Entry{Datacenter: dc, Status: model.StatusOutOfStock})
	}
	for _, m := range model.AllModels() {
		fetcher.results[m] = provider.ParseResult{Entries: fallbackEntries, Fallback: true, Strategy: "fallback_default"}
	}

	// 失敗を積んだ状態でフォールバックを受けても、カウンタはリセットされない
	cb := breaker.New(10, time.Minute)
	cb.RecordFailure("earlier failure")

	repo := newMockStatusRepo()
	p := newTestPoller(fetcher, repo, cb, &mockEnqueuer{}, &mockPublisher{})

	summary := p.RunOnce(context.Background())

	if summary.Failed != 0 {
		t.Errorf("Failed = %d, want 0（フォールバックは失敗ではない）", summary.Failed)
	}
	if summary.Fallback != 6 {
		t.Errorf("Fallback = %d, want 6", summary.Fallback)
	}
	if summary.Successful != 0 {
		t.Errorf("Successful = %d, want 0（低信頼結果は成功に数えない）", summary.Successful)
	}
	for _, r := range summary.Results {
		if !r.LowConfidence {
			t.Errorf("モデル%vの結果がLowConfidenceになっていません", r.Model)
		}
	}
	if got := cb.Status().ConsecutiveFailures; got != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1（フォールバックで成功記録してはならない）", got)
	}
}

// TestRunOnce_FallbackResolvesHalfOpenTrial はHALF_OPENの試行呼び出しが
// フォールバック結果に終わった場合、ブレーカーがOPENに戻り、その後の
// 正常応答で回復できることを検証する。試行が未解決のまま残ると
// 以降のポーリングが永久にスキップされ続ける。
func TestRunOnce_FallbackResolvesHalfOpenTrial(t *testing.T) {
	fetcher := newMockFetcher()
	fallbackEntries := make([]provider.Entry, 0)
	for _, dc := range model.DefaultDatacenters() {
		fallbackEntries = append(fallbackEntries, provider.Entry{Datacenter: dc, Status: model.StatusOutOfStock})
	}
	for _, m := range model.AllModels() {
		fetcher.results[m] = provider.ParseResult{Entries: fallbackEntries, Fallback: true, Strategy: "fallback_default"}
	}

	cb := breaker.New(1, 10*time.Millisecond)
	cb.RecordFailure("request timeout")
	if got := cb.Status().State; got != "OPEN" {
		t.Fatalf("breaker state = %q, want OPEN", got)
	}

	p := newTestPoller(fetcher, newMockStatusRepo(), cb, &mockEnqueuer{}, &mockPublisher{})

	// クールダウン経過後、試行呼び出しがフォールバックに終わる
	time.Sleep(15 * time.Millisecond)
	first := p.RunOnce(context.Background())
	if first.Fallback != 1 {
		t.Errorf("Fallback = %d, want 1（試行呼び出しの1モデルのみ）", first.Fallback)
	}
	if first.Skipped != 5 {
		t.Errorf("Skipped = %d, want 5", first.Skipped)
	}
	if got := cb.Status().State; got != "OPEN" {
		t.Errorf("breaker state = %q, want OPEN（HALF_OPENに留まってはならない）", got)
	}

	// 次のクールダウン経過後、正常応答で回復する
	for _, m := range model.AllModels() {
		fetcher.results[m] = availableResult("GRA")
	}
	time.Sleep(15 * time.Millisecond)
	p.RunOnce(context.Background())
	if got := cb.Status().State; got != "CLOSED" {
		t.Errorf("breaker state = %q, want CLOSED", got)
	}

	third := p.RunOnce(context.Background())
	if third.Successful != 6 {
		t.Errorf("Successful = %d, want 6", third.Successful)
	}
	if third.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", third.Skipped)
	}
}

// TestRunOnce_UpsertErrorIsContained はUPSERT失敗がポーリング全体を
// 中断しないことを検証する。
func TestRunOnce_UpsertErrorIsContained(t *testing.T) {
	fetcher := newMockFetcher()
	for _, m := range model.AllModels() {
		fetcher.results[m] = availableResult("GRA", "SBG")
	}

	repo := &failingStatusRepo{failDC: "GRA"}
	enq := &mockEnqueuer{}
	p := newTestPoller(fetcher, repo, breaker.New(5, time.Minute), enq, &mockPublisher{})

	summary := p.RunOnce(context.Background())

	// GRAのUPSERTは失敗するが、SBGの変化は検知される
	if summary.ChangesDetected != 6 {
		t.Errorf("ChangesDetected = %d, want 6", summary.ChangesDetected)
	}
	for _, c := range enq.enqueued() {
		if c.Datacenter != "SBG" {
			t.Errorf("unexpected enqueued datacenter: %s", c.Datacenter)
		}
	}
}

// failingStatusRepo は特定データセンターのUPSERTだけ失敗するモック。
type failingStatusRepo struct {
	failDC model.Datacenter
}

func (r *failingStatusRepo) Upsert(_ context.Context, m model.Model, dc model.Datacenter, status model.Status) (repository.UpsertResult, error) {
	if dc == r.failDC {
		return repository.UpsertResult{}, errors.New("db error")
	}
	return repository.UpsertResult{Changed: true}, nil
}
