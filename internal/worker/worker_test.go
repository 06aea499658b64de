package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tact/internal/domain"
	"tact/internal/parser"
	"tact/internal/rag"
	"tact/internal/storage/sqlite"
)

type stubProvider struct{}

func (stubProvider) Parse(ctx context.Context, text string, pc domain.ParseContext) domain.ParseOutcome {
	if text == "unparseable" {
		return domain.FailedOutcome("HTTP error: connection refused")
	}
	minutes := 120
	code := "PROJ-001"
	return domain.ParseOutcome{
		DurationMinutes:    &minutes,
		TimeCodeID:         &code,
		ConfidenceDuration: 0.95,
		ConfidenceTimeCode: 0.9,
		ConfidenceOverall:  0.9,
	}
}
func (stubProvider) Name() string  { return "stub" }
func (stubProvider) Model() string { return "stub" }

// hookedParser wraps the real parser so tests can act between phases.
type hookedParser struct {
	*parser.Parser
	beforeBuild  func(text string)
	afterRequest func(call int, text string)

	mu    sync.Mutex
	calls int
}

func (h *hookedParser) BuildContext(ctx context.Context, st parser.ContextStore, q parser.Query) (domain.ParseContext, error) {
	if h.beforeBuild != nil {
		h.beforeBuild(q.Text)
	}
	if q.Text == "bad context" {
		return domain.ParseContext{}, errors.New("catalog unavailable")
	}
	return h.Parser.BuildContext(ctx, st, q)
}

func (h *hookedParser) RequestParse(ctx context.Context, text string, pc domain.ParseContext) domain.ParseOutcome {
	out := h.Parser.RequestParse(ctx, text, pc)
	h.mu.Lock()
	h.calls++
	call := h.calls
	h.mu.Unlock()
	if h.afterRequest != nil {
		h.afterRequest(call, text)
	}
	return out
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses map[string]domain.EntryStatus
}

func (n *recordingNotifier) NotifyOutcome(ctx context.Context, rec domain.WorkRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.statuses == nil {
		n.statuses = map[string]domain.EntryStatus{}
	}
	n.statuses[rec.ID] = rec.Status
	return nil
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "worker-test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.UpsertTimeCode(context.Background(), domain.TimeCode{ID: "PROJ-001", Name: "Alpha", Active: true}); err != nil {
		t.Fatalf("UpsertTimeCode failed: %v", err)
	}
	return st
}

func createEntries(t *testing.T, st *sqlite.Store, inputs ...string) []string {
	t.Helper()
	var ids []string
	for _, in := range inputs {
		rec := domain.WorkRecord{UserInput: in}
		if err := st.CreateEntry(context.Background(), &rec); err != nil {
			t.Fatalf("CreateEntry(%q) failed: %v", in, err)
		}
		ids = append(ids, rec.ID)
	}
	return ids
}

func statusOf(t *testing.T, st *sqlite.Store, id string) domain.EntryStatus {
	t.Helper()
	rec, err := st.GetEntry(context.Background(), id)
	if err != nil {
		t.Fatalf("GetEntry(%s) failed: %v", id, err)
	}
	return rec.Status
}

func newHooked() *hookedParser {
	return &hookedParser{Parser: parser.New(stubProvider{}, nil, parser.Options{})}
}

func TestProcessBatchParsesPendingEntries(t *testing.T) {
	st := newTestStore(t)
	ids := createEntries(t, st, "2h dev on alpha", "unparseable", "1h alpha review")
	notifier := &recordingNotifier{}

	w := New(st, newHooked(), notifier, time.Second, 10)
	stats, err := w.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if stats.Collected != 3 || stats.Generated != 3 || stats.Committed != 3 || stats.Discarded != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if got := statusOf(t, st, ids[0]); got != domain.StatusParsed {
		t.Fatalf("expected parsed, got %s", got)
	}
	if got := statusOf(t, st, ids[1]); got != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if len(notifier.statuses) != 3 || notifier.statuses[ids[1]] != domain.StatusFailed {
		t.Fatalf("unexpected notifications: %+v", notifier.statuses)
	}

	stats, err = w.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("second ProcessBatch failed: %v", err)
	}
	if stats.Collected != 0 {
		t.Fatalf("nothing should be pending, collected=%d", stats.Collected)
	}
}

func TestProcessBatchRespectsBatchSize(t *testing.T) {
	st := newTestStore(t)
	createEntries(t, st, "a", "b", "c")

	w := New(st, newHooked(), nil, time.Second, 2)
	stats, err := w.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if stats.Collected != 2 {
		t.Fatalf("expected batch of 2, got %d", stats.Collected)
	}
}

func TestProcessBatchDiscardsStaleResults(t *testing.T) {
	st := newTestStore(t)
	ids := createEntries(t, st, "deleted meanwhile", "edited meanwhile", "untouched")
	ctx := context.Background()

	hp := newHooked()
	hp.afterRequest = func(call int, text string) {
		switch text {
		case "deleted meanwhile":
			if err := st.DeleteEntry(ctx, ids[0]); err != nil {
				t.Errorf("DeleteEntry failed: %v", err)
			}
		case "edited meanwhile":
			rec, err := st.GetEntry(ctx, ids[1])
			if err != nil {
				t.Errorf("GetEntry failed: %v", err)
				return
			}
			minutes := 45
			rec.DurationMinutes = &minutes
			rec.Status = domain.StatusNeedsReview
			rec.ManuallyCorrected = true
			if err := st.UpdateEntry(ctx, &rec); err != nil {
				t.Errorf("UpdateEntry failed: %v", err)
			}
		}
	}

	w := New(st, hp, nil, time.Second, 10)
	stats, err := w.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if stats.Committed != 1 || stats.Discarded != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if _, err := st.GetEntry(ctx, ids[0]); !errors.Is(err, sqlite.ErrNotFound) {
		t.Fatalf("deleted entry must stay deleted, got %v", err)
	}
	edited, err := st.GetEntry(ctx, ids[1])
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if edited.Status != domain.StatusNeedsReview || *edited.DurationMinutes != 45 || edited.TimeCodeID != nil {
		t.Fatalf("human edit was overwritten: %+v", edited)
	}
	if got := statusOf(t, st, ids[2]); got != domain.StatusParsed {
		t.Fatalf("expected untouched entry parsed, got %s", got)
	}
}

func TestProcessBatchDropsContextFailures(t *testing.T) {
	st := newTestStore(t)
	ids := createEntries(t, st, "bad context", "2h alpha")

	w := New(st, newHooked(), nil, time.Second, 10)
	stats, err := w.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if stats.Collected != 1 || stats.Dropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := statusOf(t, st, ids[0]); got != domain.StatusPending {
		t.Fatalf("context failure must leave entry pending, got %s", got)
	}
}

func TestProcessBatchCancellationKeepsUnfinishedPending(t *testing.T) {
	st := newTestStore(t)
	ids := createEntries(t, st, "one", "two", "three")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hp := newHooked()
	hp.afterRequest = func(call int, text string) {
		if call == 2 {
			cancel()
		}
	}

	w := New(st, hp, nil, time.Second, 10)
	stats, err := w.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if stats.Generated != 1 || stats.Committed != 1 {
		t.Fatalf("expected only the finished generation to commit: %+v", stats)
	}

	parsed, pending := 0, 0
	for _, id := range ids {
		switch statusOf(t, st, id) {
		case domain.StatusParsed:
			parsed++
		case domain.StatusPending:
			pending++
		}
	}
	if parsed != 1 || pending != 2 {
		t.Fatalf("expected 1 parsed and 2 pending, got parsed=%d pending=%d", parsed, pending)
	}
}

func TestRunTickRecoversFromPanic(t *testing.T) {
	st := newTestStore(t)
	createEntries(t, st, "boom")

	hp := newHooked()
	hp.beforeBuild = func(text string) { panic("unexpected") }

	w := New(st, hp, nil, time.Second, 10)
	w.runTick(context.Background(), 1)

	// The store must still be usable after the panicking transaction.
	if _, err := st.ListPendingEntries(context.Background(), 10); err != nil {
		t.Fatalf("store unusable after panic: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	st := newTestStore(t)
	ids := createEntries(t, st, "2h alpha")

	ctx, cancel := context.WithCancel(context.Background())
	w := New(st, newHooked(), nil, 10*time.Millisecond, 10)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for statusOf(t, st, ids[0]) != domain.StatusParsed {
		select {
		case <-deadline:
			t.Fatalf("worker never parsed the entry")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not stop after cancel")
	}
}

// blockingEmbedder holds its first call until release is closed.
type blockingEmbedder struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.started)
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []float32{1, 0}, nil
}

func TestProcessBatchAllowsWritesDuringQueryEmbedding(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	code := "PROJ-001"
	rule := domain.ContextRule{TimeCodeID: &code, Content: "alpha work is PROJ-001", Embedding: []float32{1, 0}}
	if err := st.CreateContextRule(ctx, &rule); err != nil {
		t.Fatalf("CreateContextRule failed: %v", err)
	}
	ids := createEntries(t, st, "2h dev on alpha", "standup")

	emb := &blockingEmbedder{started: make(chan struct{}), release: make(chan struct{})}
	p := parser.New(stubProvider{}, rag.NewEngine(emb), parser.Options{TopK: 5})
	w := New(st, p, nil, time.Second, 10)

	type batch struct {
		stats BatchStats
		err   error
	}
	done := make(chan batch, 1)
	go func() {
		stats, err := w.ProcessBatch(ctx)
		done <- batch{stats, err}
	}()

	select {
	case <-emb.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("query embedding never started")
	}

	rec, err := st.GetEntry(ctx, ids[1])
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	minutes := 15
	rec.DurationMinutes = &minutes
	rec.Status = domain.StatusNeedsReview
	rec.ManuallyCorrected = true
	start := time.Now()
	err = st.UpdateEntry(ctx, &rec)
	elapsed := time.Since(start)
	close(emb.release)
	if err != nil {
		t.Fatalf("human edit during query embedding failed after %s: %v", elapsed, err)
	}
	if elapsed > time.Second {
		t.Fatalf("human edit waited %s on the worker", elapsed)
	}

	var res batch
	select {
	case res = <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("batch did not finish")
	}
	if res.err != nil {
		t.Fatalf("ProcessBatch failed: %v", res.err)
	}
	if res.stats.Committed != 1 || res.stats.Discarded != 1 {
		t.Fatalf("unexpected stats: %+v", res.stats)
	}
	if got := statusOf(t, st, ids[0]); got != domain.StatusParsed {
		t.Fatalf("expected parsed, got %s", got)
	}
	if got := statusOf(t, st, ids[1]); got != domain.StatusNeedsReview {
		t.Fatalf("human edit was overwritten, got %s", got)
	}
}

// stallingNotifier blocks until its context gives up, like an unresponsive
// Slack API.
type stallingNotifier struct {
	mu   sync.Mutex
	errs []error
}

func (n *stallingNotifier) NotifyOutcome(ctx context.Context, rec domain.WorkRecord) error {
	<-ctx.Done()
	n.mu.Lock()
	n.errs = append(n.errs, ctx.Err())
	n.mu.Unlock()
	return ctx.Err()
}

func TestSlowNotifierDoesNotBlockCommits(t *testing.T) {
	st := newTestStore(t)
	ids := createEntries(t, st, "one", "unparseable", "three")
	notifier := &stallingNotifier{}

	w := New(st, newHooked(), notifier, time.Second, 10)
	w.notifyTimeout = 20 * time.Millisecond

	stats, err := w.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if stats.Committed != 3 {
		t.Fatalf("expected every result committed, got %+v", stats)
	}
	for _, id := range ids {
		if got := statusOf(t, st, id); got == domain.StatusPending {
			t.Fatalf("entry %s left pending", id)
		}
	}
	if len(notifier.errs) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(notifier.errs))
	}
	for _, err := range notifier.errs {
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("notification should time out on its own deadline, got %v", err)
		}
	}
}
