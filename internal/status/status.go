// Package status tracks the scraper's run phase and fans phase changes out
// to pluggable sinks such as structured logs or Prometheus gauges.
package status

import (
	"sync"

	"go.uber.org/zap"

	"github.com/histocoin/artifact-miner/internal/metrics"
)

// Phase is a coarse lifecycle state of the scraping orchestrator.
type Phase string

// Supported phases, in the order a continuous run cycles through them.
const (
	PhaseIdle        Phase = "Idle"
	PhaseStarting    Phase = "Starting"
	PhaseRunning     Phase = "Running"
	PhaseCoolingDown Phase = "CoolingDown"
)

// Snapshot is a point-in-time view of the run state.
type Snapshot struct {
	Phase Phase `json:"status"`
	// CurrentSource names the source being worked, empty outside Running.
	CurrentSource string `json:"current_source,omitempty"`
	// Continuous reports whether the run loops until stopped.
	Continuous bool `json:"continuous"`
}

// Sink receives every phase transition.
type Sink interface {
	Report(Snapshot)
}

// Tracker holds the current snapshot and notifies sinks on change.
// Safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	snap  Snapshot
	sinks []Sink
}

// NewTracker starts Idle and reports to the given sinks.
func NewTracker(sinks ...Sink) *Tracker {
	t := &Tracker{
		snap:  Snapshot{Phase: PhaseIdle},
		sinks: sinks,
	}
	t.notify(t.snap)
	return t
}

// Set records a phase transition and the source it applies to.
func (t *Tracker) Set(phase Phase, source string) {
	t.mu.Lock()
	t.snap.Phase = phase
	t.snap.CurrentSource = source
	snap := t.snap
	t.mu.Unlock()
	t.notify(snap)
}

// SetContinuous flags whether the current run loops until stopped.
func (t *Tracker) SetContinuous(continuous bool) {
	t.mu.Lock()
	t.snap.Continuous = continuous
	snap := t.snap
	t.mu.Unlock()
	t.notify(snap)
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

func (t *Tracker) notify(snap Snapshot) {
	for _, s := range t.sinks {
		s.Report(snap)
	}
}

// LogSink writes phase transitions to a structured logger.
type LogSink struct {
	Logger *zap.Logger
}

// Report implements Sink.
func (s LogSink) Report(snap Snapshot) {
	s.Logger.Info("scraper phase",
		zap.String("phase", string(snap.Phase)),
		zap.String("source", snap.CurrentSource),
		zap.Bool("continuous", snap.Continuous),
	)
}

// PromSink mirrors the phase onto the Prometheus phase gauge.
type PromSink struct{}

// Report implements Sink.
func (PromSink) Report(snap Snapshot) {
	metrics.SetPhase(string(snap.Phase))
}
