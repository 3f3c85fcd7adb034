package scraper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/histocoin/artifact-miner/internal/artifact"
	"github.com/histocoin/artifact-miner/internal/metrics"
	"github.com/histocoin/artifact-miner/internal/status"
)

// ErrAlreadyRunning is returned by Start when a run is in progress.
var ErrAlreadyRunning = errors.New("scrape already running")

// Dispatcher routes one source to its processor. It exists so the
// orchestrator can be tested without real network collaborators.
type Dispatcher interface {
	Process(ctx context.Context, src artifact.Source)
}

// RunOptions shape a single Start call.
type RunOptions struct {
	// SourceID restricts the run to one source; empty means all.
	SourceID string
	// Continuous loops passes with a cooldown until Stop is called.
	Continuous bool
}

// Orchestrator drives scrape runs: it loads the source list, walks it
// once per pass, and either finishes (manual run) or cools down and loops
// (continuous run). At most one run is active at a time.
type Orchestrator struct {
	store      artifact.RecordStore
	dispatcher Dispatcher
	tracker    *status.Tracker
	cooldown   time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stop    atomic.Bool
}

// NewOrchestrator builds an orchestrator; cooldown below one second is
// clamped to one second.
func NewOrchestrator(store artifact.RecordStore, dispatcher Dispatcher, tracker *status.Tracker, cooldown time.Duration, logger *zap.Logger) *Orchestrator {
	if cooldown < time.Second {
		cooldown = time.Second
	}
	return &Orchestrator{
		store:      store,
		dispatcher: dispatcher,
		tracker:    tracker,
		cooldown:   cooldown,
		logger:     logger,
	}
}

// Start launches a run in the background. Returns ErrAlreadyRunning when
// a run is still active.
func (o *Orchestrator) Start(ctx context.Context, opts RunOptions) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.running = true
	o.stop.Store(false)
	o.done = make(chan struct{})
	done := o.done
	o.mu.Unlock()

	o.tracker.SetContinuous(opts.Continuous)
	go o.run(ctx, opts, done)
	return nil
}

// Stop requests a graceful stop. The run finishes its current source and
// exits at the next boundary.
func (o *Orchestrator) Stop() {
	o.stop.Store(true)
}

// Running reports whether a run is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Wait blocks until the current run finishes. Returns immediately when no
// run was started.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done == nil {
		return
	}
	<-done
}

func (o *Orchestrator) run(ctx context.Context, opts RunOptions, done chan struct{}) {
	defer close(done)
	defer func() {
		o.tracker.Set(status.PhaseIdle, "")
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	o.logger.Info("scrape run starting",
		zap.String("source_id", opts.SourceID),
		zap.Bool("continuous", opts.Continuous),
	)

	for {
		o.tracker.Set(status.PhaseStarting, "Initializing")

		sources := o.loadSources(ctx, opts.SourceID)
		for _, src := range sources {
			if o.stopped(ctx) {
				o.logger.Info("stop requested, ending run")
				return
			}
			o.tracker.Set(status.PhaseRunning, src.Name)
			o.dispatch(ctx, src)
		}
		metrics.ObservePass()

		if !opts.Continuous || o.stopped(ctx) {
			o.logger.Info("scrape run finished")
			return
		}

		o.tracker.Set(status.PhaseCoolingDown, "")
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cooldown):
		}
	}
}

// dispatch isolates one source so a panicking processor cannot take down
// the run loop.
func (o *Orchestrator) dispatch(ctx context.Context, src artifact.Source) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("source processing panicked",
				zap.String("source", src.Name),
				zap.Any("panic", r),
			)
		}
	}()
	o.dispatcher.Process(ctx, src)
}

func (o *Orchestrator) loadSources(ctx context.Context, filterID string) []artifact.Source {
	sources, err := o.store.ListSources(ctx, filterID)
	if err != nil {
		o.logger.Error("loading sources failed", zap.Error(err))
		return nil
	}
	if len(sources) == 0 {
		o.logger.Warn("no sources configured", zap.String("source_id", filterID))
	}
	return sources
}

func (o *Orchestrator) stopped(ctx context.Context) bool {
	return o.stop.Load() || ctx.Err() != nil
}
