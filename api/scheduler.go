/*
scheduler.go - Background adjustment pass runner

PURPOSE:
  Periodically runs the deferred-adjustment scheduling pass over the work
  queue, and accepts out-of-band triggers (priority changes) between ticks.

DESIGN:
  - Background goroutine with a configurable tick interval
  - Runs one pass immediately on start
  - Out-of-band triggers are coalesced: a trigger while a pass is running
    collapses into at most one pending pass, never a backlog
  - Pass records are persisted for audit and UI display

USAGE:
  runner := NewPassRunner(service, time.Hour)
  runner.Start()
  // ... later
  runner.Stop()

SEE ALSO:
  - orders/service.go: RunAdjustmentPass
  - engine/adjust.go: Evaluation rule and pass lock
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/production-engine/orders"
)

// PassRunner drives recurring adjustment passes.
type PassRunner struct {
	Service  *orders.Service
	Interval time.Duration

	ticker  *time.Ticker
	trigger chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewPassRunner creates a runner. A non-positive interval defaults to 1 hour.
func NewPassRunner(service *orders.Service, interval time.Duration) *PassRunner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &PassRunner{
		Service:  service,
		Interval: interval,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Start begins the runner.
func (pr *PassRunner) Start() {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.started {
		return
	}
	pr.started = true
	pr.ticker = time.NewTicker(pr.Interval)
	pr.wg.Add(1)

	go pr.run()

	log.Printf("[PassRunner] Started with interval: %v", pr.Interval)
}

// Stop stops the runner and waits for an in-flight pass to finish.
func (pr *PassRunner) Stop() {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if !pr.started {
		return
	}
	pr.started = false
	pr.ticker.Stop()
	close(pr.stop)
	pr.wg.Wait()
	log.Println("[PassRunner] Stopped")
}

// Trigger requests an out-of-band pass. Triggers arriving while a pass runs
// coalesce into a single pending one.
func (pr *PassRunner) Trigger() {
	select {
	case pr.trigger <- struct{}{}:
	default:
		// A pass is already pending; this trigger rides along with it.
	}
}

func (pr *PassRunner) run() {
	defer pr.wg.Done()

	// Run immediately on start
	pr.runPass()

	for {
		select {
		case <-pr.ticker.C:
			pr.runPass()
		case <-pr.trigger:
			pr.runPass()
		case <-pr.stop:
			return
		}
	}
}

func (pr *PassRunner) runPass() {
	ctx := context.Background()
	if _, err := pr.Service.RunAdjustmentPass(ctx, time.Now()); err != nil {
		log.Printf("[PassRunner] Pass failed: %v", err)
	}
}
