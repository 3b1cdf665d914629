package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/queuectl/queuectl/pkg/store"
)

// joinTimeout bounds how long Stop waits for each worker. A worker still
// busy past the bound is left orphaned; the reaper recovers its claim.
const joinTimeout = 30 * time.Second

// Pool supervises N workers, each with its own store handle, and translates
// interrupt/terminate signals into a cooperative shutdown.
type Pool struct {
	dbPath string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	sigCh   chan os.Signal
	workers []poolEntry
}

type poolEntry struct {
	worker *Worker
	done   chan struct{}
}

func NewPool(dbPath string) *Pool {
	return &Pool{dbPath: dbPath}
}

// Start spawns count workers. Calling Start while running is a no-op
// warning.
func (p *Pool) Start(count int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		log.Warnw("workers already running")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.workers = nil

	for i := 1; i <= count; i++ {
		s, err := store.Open(p.dbPath)
		if err != nil {
			cancel()
			p.stopStartedLocked()
			return fmt.Errorf("opening store for worker %d: %w", i, err)
		}
		w := New(i, s)
		done := make(chan struct{})
		p.workers = append(p.workers, poolEntry{worker: w, done: done})
		go func() {
			defer close(done)
			defer s.Close()
			w.Run(ctx)
		}()
	}

	p.sigCh = make(chan os.Signal, 1)
	signal.Notify(p.sigCh, os.Interrupt, syscall.SIGTERM)
	go func(ch chan os.Signal) {
		if sig, ok := <-ch; ok {
			log.Infow("received signal, shutting down gracefully", "signal", sig.String())
			p.Stop()
		}
	}(p.sigCh)

	p.running = true
	log.Infow("workers started", "count", count)
	return nil
}

// Stop signals every worker to stop and joins each with a bounded wait.
// Calling Stop while stopped is a no-op.
func (p *Pool) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}

	log.Infow("stopping workers, finishing current jobs")
	signal.Stop(p.sigCh)
	close(p.sigCh)
	p.cancel()

	var result *multierror.Error
	for _, entry := range p.workers {
		select {
		case <-entry.done:
		case <-time.After(joinTimeout):
			result = multierror.Append(result, fmt.Errorf(
				"worker %s did not stop within %s, leaving it orphaned", entry.worker.ID(), joinTimeout))
		}
	}

	p.workers = nil
	p.running = false
	log.Infow("all workers stopped")
	return result.ErrorOrNil()
}

// Wait blocks until every worker goroutine has exited.
func (p *Pool) Wait() {
	p.mu.Lock()
	entries := make([]poolEntry, len(p.workers))
	copy(entries, p.workers)
	p.mu.Unlock()
	for _, entry := range entries {
		<-entry.done
	}
}

// Running reports whether the pool currently has workers.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// stopStartedLocked tears down workers spawned before a Start failure.
func (p *Pool) stopStartedLocked() {
	for _, entry := range p.workers {
		<-entry.done
	}
	p.workers = nil
}
