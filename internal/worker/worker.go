package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"tact/internal/domain"
	"tact/internal/parser"
	"tact/internal/storage/sqlite"
)

const (
	DefaultInterval  = 10 * time.Second
	DefaultBatchSize = 10

	// commitTimeout bounds the write-back of results that were already
	// generated when shutdown began.
	commitTimeout = 30 * time.Second

	// notifyTimeout bounds each review notification. Notifications are
	// sent after every commit of the batch has landed.
	notifyTimeout = 10 * time.Second
)

// EntryParser is the slice of *parser.Parser the worker drives.
type EntryParser interface {
	PrepareQuery(ctx context.Context, text string) parser.Query
	BuildContext(ctx context.Context, st parser.ContextStore, q parser.Query) (domain.ParseContext, error)
	RequestParse(ctx context.Context, text string, pc domain.ParseContext) domain.ParseOutcome
	ApplyResult(ctx context.Context, st parser.ResultStore, rec *domain.WorkRecord, out domain.ParseOutcome, pc domain.ParseContext) error
}

// Notifier is told about every record the worker moved out of pending.
type Notifier interface {
	NotifyOutcome(ctx context.Context, rec domain.WorkRecord) error
}

// Worker polls for pending entries and runs each batch through three
// phases: collect (query embeddings first, then one read transaction),
// generate (no store access) and commit (one transaction per record,
// applied only if the record is still pending).
type Worker struct {
	store         *sqlite.Store
	parser        EntryParser
	notifier      Notifier
	interval      time.Duration
	batchSize     int
	notifyTimeout time.Duration
}

func New(store *sqlite.Store, p EntryParser, notifier Notifier, interval time.Duration, batchSize int) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Worker{
		store:         store,
		parser:        p,
		notifier:      notifier,
		interval:      interval,
		batchSize:     batchSize,
		notifyTimeout: notifyTimeout,
	}
}

// job and result are passed by value between phases; only the record id
// links them back to the store.
type job struct {
	id   string
	text string
	pc   domain.ParseContext
}

type result struct {
	job
	out domain.ParseOutcome
}

// BatchStats summarizes one tick.
type BatchStats struct {
	Collected int
	Dropped   int
	Generated int
	Committed int
	Discarded int
}

// Run ticks until ctx is cancelled. A tick that fails or panics is logged
// and the loop carries on after the usual sleep.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("parser worker started interval=%s batch_size=%d", w.interval, w.batchSize)
	for tick := 1; ctx.Err() == nil; tick++ {
		w.runTick(ctx, tick)

		select {
		case <-ctx.Done():
		case <-time.After(w.interval):
		}
	}
	log.Printf("parser worker stopped")
}

func (w *Worker) runTick(ctx context.Context, tick int) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("parser worker panic tick=%d: %v\n%s", tick, r, debug.Stack())
		}
	}()

	stats, err := w.ProcessBatch(ctx)
	if err != nil {
		log.Printf("parser worker error tick=%d: %v", tick, err)
		return
	}
	if stats.Collected > 0 || stats.Dropped > 0 {
		log.Printf("parser worker tick=%d collected=%d dropped=%d generated=%d committed=%d discarded=%d",
			tick, stats.Collected, stats.Dropped, stats.Generated, stats.Committed, stats.Discarded)
	}
}

// ProcessBatch runs one collect/generate/commit cycle.
func (w *Worker) ProcessBatch(ctx context.Context) (BatchStats, error) {
	var stats BatchStats

	jobs, dropped, err := w.collect(ctx)
	stats.Dropped = dropped
	if err != nil {
		return stats, fmt.Errorf("collect: %w", err)
	}
	stats.Collected = len(jobs)
	if len(jobs) == 0 {
		return stats, nil
	}
	if ctx.Err() != nil {
		log.Printf("parser worker cancelled after collect, entries stay pending count=%d", len(jobs))
		return stats, nil
	}

	results := w.generate(ctx, jobs)
	stats.Generated = len(results)

	committed, discarded := w.commit(ctx, results)
	stats.Committed = committed
	stats.Discarded = discarded
	return stats, nil
}

// collect selects pending entries and embeds their text with no transaction
// open, so writers are never held up by the embedding backend. Rules and
// catalogs are then read in one transaction.
func (w *Worker) collect(ctx context.Context) ([]job, int, error) {
	pending, err := w.store.ListPendingEntries(ctx, w.batchSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list pending: %w", err)
	}
	if len(pending) == 0 {
		return nil, 0, nil
	}

	queries := make([]parser.Query, len(pending))
	for i, rec := range pending {
		queries[i] = w.parser.PrepareQuery(ctx, rec.UserInput)
	}
	if ctx.Err() != nil {
		log.Printf("parser worker cancelled during query embedding, entries stay pending count=%d", len(pending))
		return nil, 0, nil
	}

	var (
		jobs    []job
		dropped int
	)
	err = w.store.WithTx(ctx, func(tx *sqlite.Store) error {
		for i, rec := range pending {
			pc, err := w.parser.BuildContext(ctx, tx, queries[i])
			if err != nil {
				log.Printf("parser worker context build failed entry=%s, retrying next tick: %v", rec.ID, err)
				dropped++
				continue
			}
			jobs = append(jobs, job{id: rec.ID, text: rec.UserInput, pc: pc})
		}
		return nil
	})
	if err != nil {
		return nil, dropped, err
	}
	if len(jobs) > 0 {
		log.Printf("parser worker collected count=%d dropped=%d", len(jobs), dropped)
	}
	return jobs, dropped, nil
}

// generate calls the backend one entry at a time. An outcome produced while
// ctx was being cancelled is discarded so its entry stays pending.
func (w *Worker) generate(ctx context.Context, jobs []job) []result {
	results := make([]result, 0, len(jobs))
	for i, j := range jobs {
		if ctx.Err() != nil {
			log.Printf("parser worker generate cancelled, entries stay pending count=%d", len(jobs)-i)
			break
		}
		out := w.parser.RequestParse(ctx, j.text, j.pc)
		if ctx.Err() != nil {
			log.Printf("parser worker discarded interrupted generation entry=%s", j.id)
			break
		}
		results = append(results, result{job: j, out: out})
	}
	log.Printf("parser worker generated count=%d of=%d", len(results), len(jobs))
	return results
}

// commit writes each result in its own transaction. Results already
// generated are committed even if ctx has been cancelled. Notifications go
// out only after the last commit.
func (w *Worker) commit(ctx context.Context, results []result) (int, int) {
	if len(results) == 0 {
		return 0, 0
	}
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	var applied []domain.WorkRecord
	discarded := 0
	for _, r := range results {
		rec, err := w.commitOne(commitCtx, r)
		if err != nil {
			log.Printf("parser worker commit failed entry=%s: %v", r.id, err)
			continue
		}
		if rec == nil {
			discarded++
			continue
		}
		applied = append(applied, *rec)
	}
	log.Printf("parser worker committed count=%d discarded=%d", len(applied), discarded)

	for _, rec := range applied {
		w.notify(context.WithoutCancel(ctx), rec)
	}
	return len(applied), discarded
}

// commitOne returns the updated record, or nil when the result was
// discarded because the record changed underneath it.
func (w *Worker) commitOne(ctx context.Context, r result) (*domain.WorkRecord, error) {
	var applied *domain.WorkRecord
	err := w.store.WithTx(ctx, func(tx *sqlite.Store) error {
		rec, err := tx.GetEntry(ctx, r.id)
		if errors.Is(err, sqlite.ErrNotFound) {
			log.Printf("parser worker discarded result entry=%s reason=deleted", r.id)
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Status != domain.StatusPending {
			log.Printf("parser worker discarded result entry=%s reason=status=%s", r.id, rec.Status)
			return nil
		}
		if err := w.parser.ApplyResult(ctx, tx, &rec, r.out, r.pc); err != nil {
			return err
		}
		applied = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

func (w *Worker) notify(ctx context.Context, rec domain.WorkRecord) {
	if w.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, w.notifyTimeout)
	defer cancel()
	if err := w.notifier.NotifyOutcome(ctx, rec); err != nil {
		log.Printf("parser worker notify failed entry=%s: %v", rec.ID, err)
	}
}
