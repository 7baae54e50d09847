package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"callsense/internal/calls"
	"callsense/internal/metrics"
	"callsense/internal/storage"
	"callsense/internal/transcribe"

	"github.com/cenkalti/backoff/v5"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

// AudioSource resolves a persisted locator string to audio bytes.
type AudioSource interface {
	RetrieveString(ctx context.Context, raw string) ([]byte, error)
}

// Limiter caps concurrent analyzer calls across worker processes. holder is
// unique per acquisition.
type Limiter interface {
	Acquire(ctx context.Context, holder string) (bool, error)
	Release(ctx context.Context, holder string) error
}

type Options struct {
	BatchSize       int
	Concurrency     int
	MaxAttempts     int
	RetryBackoff    time.Duration
	ClaimLease      time.Duration
	RetrieveTimeout time.Duration
	ClassifyTimeout time.Duration
	PollInterval    time.Duration

	Limiter Limiter
	Queue   Source
	Metrics *metrics.Pipeline
	Logger  *slog.Logger
	Now     func() time.Time
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.ClaimLease <= 0 {
		o.ClaimLease = 10 * time.Minute
	}
	if o.RetrieveTimeout <= 0 {
		o.RetrieveTimeout = 30 * time.Second
	}
	if o.ClassifyTimeout <= 0 {
		o.ClassifyTimeout = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Worker advances pending call records to done or error.
type Worker struct {
	store    calls.Store
	audio    AudioSource
	analyzer transcribe.Analyzer
	opts     Options
	log      *slog.Logger

	// slots caps records in flight across cycles and queue wake-ups.
	slots chan struct{}
}

func New(store calls.Store, audio AudioSource, analyzer transcribe.Analyzer, opts Options) *Worker {
	opts = opts.withDefaults()
	return &Worker{
		store:    store,
		audio:    audio,
		analyzer: analyzer,
		opts:     opts,
		log:      opts.Logger,
		slots:    make(chan struct{}, opts.Concurrency),
	}
}

// workBudget is how long a claimed record may spend retrieving and analyzing.
// It ends before the lease so the final write lands while the claim is still
// ours and RecoverStale on another worker cannot hand the record out twice.
func (o Options) workBudget() time.Duration {
	margin := o.ClaimLease / 5
	if margin > finalizeTimeout {
		margin = finalizeTimeout
	}
	return o.ClaimLease - margin
}

// CycleResult tallies one pass over the pending set.
type CycleResult struct {
	Recovered int
	Claimed   int
	Done      int
	Failed    int
	Conflicts int
	Deferred  int
	Released  int
}

func (r *CycleResult) add(outcome string) {
	switch outcome {
	case metrics.OutcomeDone:
		r.Claimed++
		r.Done++
	case metrics.OutcomeError:
		r.Claimed++
		r.Failed++
	case metrics.OutcomeReleased:
		r.Claimed++
		r.Released++
	case metrics.OutcomeConflict:
		r.Conflicts++
	case metrics.OutcomeDeferred:
		r.Deferred++
	}
}

// RunCycle recovers stale claims, then processes up to BatchSize pending records
// oldest first with bounded parallelism. A failure on one record never stops the others.
func (w *Worker) RunCycle(ctx context.Context) (CycleResult, error) {
	start := w.opts.Now()
	var res CycleResult

	n, err := w.store.RecoverStale(ctx, start.Add(-w.opts.ClaimLease))
	if err != nil {
		w.log.Warn("recover stale claims failed", "err", err)
	} else if n > 0 {
		res.Recovered = n
		w.opts.Metrics.AddRecovered(n)
		w.log.Info("recovered stale claims", "count", n)
	}

	pending, err := w.store.ListByStatus(ctx, calls.StatusPending, w.opts.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list pending: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(w.opts.Concurrency)
	for _, rec := range pending {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome := w.process(ctx, rec)
			mu.Lock()
			res.add(outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	w.opts.Metrics.ObserveCycle(elapsed)
	if len(pending) > 0 || res.Recovered > 0 {
		w.log.Info("worker cycle",
			"pending", len(pending),
			"claimed", res.Claimed,
			"done", res.Done,
			"failed", res.Failed,
			"conflicts", res.Conflicts,
			"deferred", res.Deferred,
			"released", res.Released,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	return res, ctx.Err()
}

// ProcessOne handles a single record by id, typically after a queue wake-up.
// Records that are no longer pending are skipped as conflicts.
func (w *Worker) ProcessOne(ctx context.Context, id string) (string, error) {
	rec, err := w.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if rec.Status != calls.StatusPending {
		w.opts.Metrics.IncRecord(metrics.OutcomeConflict)
		return metrics.OutcomeConflict, nil
	}
	return w.process(ctx, rec), nil
}

const finalizeTimeout = 10 * time.Second

func (w *Worker) process(ctx context.Context, rec calls.CallRecord) (outcome string) {
	log := w.log.With("call_id", rec.ID, "company_id", rec.CompanyID)
	defer func() { w.opts.Metrics.IncRecord(outcome) }()

	select {
	case w.slots <- struct{}{}:
		defer func() { <-w.slots }()
	case <-ctx.Done():
		return metrics.OutcomeDeferred
	}

	if w.opts.Limiter != nil {
		holder := rec.ID + ":" + ulid.Make().String()
		ok, err := w.opts.Limiter.Acquire(ctx, holder)
		switch {
		case err != nil:
			log.Warn("inflight cap unavailable, proceeding uncapped", "err", err)
		case !ok:
			return metrics.OutcomeDeferred
		default:
			defer func() {
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
				defer cancel()
				if err := w.opts.Limiter.Release(rctx, holder); err != nil {
					log.Warn("inflight cap release failed", "err", err)
				}
			}()
		}
	}

	claimed, err := w.store.UpdateIfStatus(ctx, rec.ID, calls.StatusPending, calls.To(calls.StatusTranscribing))
	if err != nil {
		if errors.Is(err, calls.ErrConflict) || errors.Is(err, calls.ErrNotFound) {
			log.Debug("record already claimed", "err", err)
			return metrics.OutcomeConflict
		}
		log.Error("claim failed", "err", err)
		return metrics.OutcomeDeferred
	}

	wctx, cancelWork := context.WithTimeout(ctx, w.opts.workBudget())
	analysis, err := w.analyze(wctx, claimed)
	cancelWork()
	if err != nil && ctx.Err() == nil && wctx.Err() != nil {
		err = fmt.Errorf("claim lease of %s exhausted: %w", w.opts.ClaimLease, err)
	}

	// Writes after this point must land even if the cycle is being cancelled.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if ctx.Err() != nil {
		if _, rerr := w.store.UpdateIfStatus(fctx, rec.ID, calls.StatusTranscribing, calls.To(calls.StatusPending)); rerr != nil {
			log.Warn("release claim failed; lease recovery will reset it", "err", rerr)
		}
		return metrics.OutcomeReleased
	}

	m := calls.Done(analysis.Transcript, analysis.Summary)
	outcome = metrics.OutcomeDone
	if err != nil {
		m = calls.Failed(err.Error())
		outcome = metrics.OutcomeError
	}
	if _, err := w.store.UpdateIfStatus(fctx, rec.ID, calls.StatusTranscribing, m); err != nil {
		if errors.Is(err, calls.ErrConflict) {
			log.Warn("record changed while processing; result discarded")
			return metrics.OutcomeConflict
		}
		log.Error("finalize failed", "status", m.Status, "err", err)
		return metrics.OutcomeDeferred
	}
	if outcome == metrics.OutcomeError {
		log.Warn("call processing failed", "reason", m.ErrorMessage)
	} else {
		log.Info("call processed", "sentiment", analysis.Summary.Sentiment, "urgency", analysis.Summary.Urgency)
	}
	return outcome
}

func (w *Worker) analyze(ctx context.Context, rec calls.CallRecord) (transcribe.Analysis, error) {
	audio, err := retry(ctx, w, "retrieve", w.opts.RetrieveTimeout, retrieveRetryable, func(actx context.Context) ([]byte, error) {
		return w.audio.RetrieveString(actx, rec.RecordingLocator)
	})
	if err != nil {
		return transcribe.Analysis{}, fmt.Errorf("retrieve recording: %w", err)
	}

	name := path.Base(rec.RecordingLocator)
	analysis, err := retry(ctx, w, "classify", w.opts.ClassifyTimeout, transcribe.Retryable, func(actx context.Context) (transcribe.Analysis, error) {
		return w.analyzer.Analyze(actx, audio, name)
	})
	if err != nil {
		return transcribe.Analysis{}, fmt.Errorf("analyze recording: %w", err)
	}
	if err := analysis.Summary.Validate(); err != nil {
		return transcribe.Analysis{}, fmt.Errorf("analyze recording: invalid summary: %w", err)
	}
	return analysis, nil
}

func retrieveRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, storage.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// retry runs op up to MaxAttempts times with exponential backoff. Each attempt gets
// its own timeout; errors that retryable rejects stop immediately.
func retry[T any](ctx context.Context, w *Worker, stage string, timeout time.Duration, retryable func(error) bool, op func(context.Context) (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.opts.RetryBackoff
	eb.MaxInterval = 20 * w.opts.RetryBackoff

	return backoff.Retry(ctx, func() (T, error) {
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		start := time.Now()
		v, err := op(actx)
		w.opts.Metrics.ObserveStage(stage, time.Since(start))
		if err != nil && (ctx.Err() != nil || !retryable(err)) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(w.opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, d time.Duration) {
			w.opts.Metrics.IncRetry(stage)
			w.log.Debug("retrying", "stage", stage, "err", err, "backoff_ms", d.Milliseconds())
		}),
	)
}
