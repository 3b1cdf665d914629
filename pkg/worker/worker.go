// Package worker runs the long-lived job-processing loops and the pool
// supervisor that owns their lifetimes.
package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/queuectl/queuectl/pkg/job"
	"github.com/queuectl/queuectl/pkg/queue"
	"github.com/queuectl/queuectl/pkg/store"
)

var log = logging.Logger("worker")

// reapInterval is how often a running worker re-runs the stale-claim reaper.
const reapInterval = time.Minute

// Worker is one processing loop. Each worker owns its store handle and runs
// at most one subprocess at a time.
type Worker struct {
	id      string
	index   int
	store   *store.Store
	manager *queue.Manager
}

// New creates a worker over its own store handle. The id is unique per
// instance: pid, worker index, and a short random suffix.
func New(index int, s *store.Store) *Worker {
	return &Worker{
		id:      fmt.Sprintf("%d-%d-%s", os.Getpid(), index, uuid.NewString()[:8]),
		index:   index,
		store:   s,
		manager: queue.NewManager(s),
	}
}

func (w *Worker) ID() string {
	return w.id
}

// Run is the main loop: heartbeat, periodic reap, retry promotion, claim,
// execute. It returns when ctx is cancelled, after finishing any execution
// in flight. Errors inside the loop never kill the worker.
func (w *Worker) Run(ctx context.Context) {
	log.Infow("worker started", "id", w.id)

	if err := w.store.RegisterWorker(ctx, w.id, os.Getpid(), fmt.Sprintf("worker-%d", w.index)); err != nil {
		log.Errorw("failed to register worker", "id", w.id, "error", err)
	}

	cfg, err := w.store.GetConfig(ctx)
	if err != nil {
		log.Errorw("failed to read config, using defaults", "id", w.id, "error", err)
		cfg = job.DefaultConfig()
	}

	if _, err := w.store.ResetStaleProcessing(ctx, cfg.StaleThreshold()); err != nil {
		log.Warnw("startup reap failed", "id", w.id, "error", err)
	}
	lastReap := time.Now()

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return
		default:
		}

		if err := w.store.Heartbeat(ctx, w.id); err != nil {
			log.Warnw("heartbeat failed", "id", w.id, "error", err)
		}

		if time.Since(lastReap) >= reapInterval {
			if _, err := w.store.ResetStaleProcessing(ctx, cfg.StaleThreshold()); err != nil {
				log.Warnw("reap failed", "id", w.id, "error", err)
			}
			lastReap = time.Now()
		}

		if _, err := w.manager.PromoteRetries(ctx); err != nil {
			log.Errorw("promoting retries failed", "id", w.id, "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}

		j, err := w.manager.ClaimNext(ctx)
		if err != nil {
			log.Errorw("claim failed", "id", w.id, "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}

		if j != nil {
			log.Infow("picked up job", "worker", w.id, "job", j.ID)
			if _, err := w.manager.Execute(ctx, j); err != nil {
				log.Errorw("recording job outcome failed", "worker", w.id, "job", j.ID, "error", err)
				sleepCtx(ctx, time.Second)
			}
			// drain mode: look for the next job immediately
			continue
		}

		sleepCtx(ctx, cfg.PollInterval())
	}
}

// shutdown marks the registry row stopped. The loop context is already
// cancelled at this point, so use a short-lived one.
func (w *Worker) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := w.store.StopWorker(ctx, w.id); err != nil {
		log.Warnw("failed to mark worker stopped", "id", w.id, "error", err)
	}
	log.Infow("worker stopped", "id", w.id)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
