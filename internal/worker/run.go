package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"callsense/pkg/logger"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Source yields record ids pushed at ingestion time.
type Source interface {
	Pop(ctx context.Context, wait time.Duration) (id string, ok bool, err error)
}

const (
	popWait       = 5 * time.Second
	sourceBackoff = time.Second
)

// Run schedules RunCycle every PollInterval and, when a Source is configured,
// processes pushed ids as they arrive. It blocks until ctx is cancelled and
// in-flight work has finished.
func (w *Worker) Run(ctx context.Context) error {
	var running atomic.Bool
	tick := func() {
		if !running.CompareAndSwap(false, true) {
			return
		}
		defer running.Store(false)
		if _, err := w.RunCycle(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("worker cycle failed", "err", err)
		}
	}

	cl := logger.Cron(w.log)
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", w.opts.PollInterval), tick); err != nil {
		return fmt.Errorf("schedule worker cycle: %w", err)
	}

	w.log.Info("worker started",
		"poll_interval", w.opts.PollInterval.String(),
		"concurrency", w.opts.Concurrency,
		"batch_size", w.opts.BatchSize,
		"queue", w.opts.Queue != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tick()
		c.Start()
		<-gctx.Done()
		<-c.Stop().Done()
		return nil
	})
	if w.opts.Queue != nil {
		g.Go(func() error {
			w.consume(gctx)
			return nil
		})
	}
	err := g.Wait()
	w.log.Info("worker stopped")
	return err
}

func (w *Worker) consume(ctx context.Context) {
	for ctx.Err() == nil {
		id, ok, err := w.opts.Queue.Pop(ctx, popWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("queue pop failed", "err", err)
			select {
			case <-time.After(sourceBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		if !ok {
			continue
		}
		if _, err := w.ProcessOne(ctx, id); err != nil && ctx.Err() == nil {
			w.log.Warn("queued record skipped", "call_id", id, "err", err)
		}
	}
}
