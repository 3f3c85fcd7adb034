package scraper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/histocoin/artifact-miner/internal/artifact"
	"github.com/histocoin/artifact-miner/internal/status"
	"github.com/histocoin/artifact-miner/internal/storage/memory"
)

type stubDispatcher struct {
	mu        sync.Mutex
	processed []string
	onProcess func(src artifact.Source)
}

func (d *stubDispatcher) Process(_ context.Context, src artifact.Source) {
	d.mu.Lock()
	d.processed = append(d.processed, src.Name)
	d.mu.Unlock()
	if d.onProcess != nil {
		d.onProcess(src)
	}
}

func (d *stubDispatcher) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.processed...)
}

type phaseSink struct {
	mu     sync.Mutex
	phases []status.Phase
}

func (s *phaseSink) Report(snap status.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, snap.Phase)
}

func (s *phaseSink) all() []status.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]status.Phase(nil), s.phases...)
}

func seedSources(t *testing.T, store *memory.RecordStore, names ...string) []artifact.Source {
	t.Helper()
	var out []artifact.Source
	for _, name := range names {
		src, err := store.CreateSource(context.Background(), name, "https://"+name+".example")
		require.NoError(t, err)
		out = append(out, src)
	}
	return out
}

func TestManualRunSinglePass(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore()
	seedSources(t, store, "alpha", "beta")

	dispatcher := &stubDispatcher{}
	sink := &phaseSink{}
	tracker := status.NewTracker(sink)
	orch := NewOrchestrator(store, dispatcher, tracker, time.Second, zap.NewNop())

	require.NoError(t, orch.Start(context.Background(), RunOptions{}))
	orch.Wait()

	require.Equal(t, []string{"alpha", "beta"}, dispatcher.names())
	require.False(t, orch.Running())

	phases := sink.all()
	require.NotContains(t, phases, status.PhaseCoolingDown)
	require.Equal(t, status.PhaseIdle, phases[len(phases)-1])
	require.Contains(t, phases, status.PhaseStarting)
	require.Contains(t, phases, status.PhaseRunning)
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore()
	seedSources(t, store, "alpha")

	release := make(chan struct{})
	dispatcher := &stubDispatcher{onProcess: func(artifact.Source) { <-release }}
	orch := NewOrchestrator(store, dispatcher, status.NewTracker(), time.Second, zap.NewNop())

	require.NoError(t, orch.Start(context.Background(), RunOptions{}))
	require.ErrorIs(t, orch.Start(context.Background(), RunOptions{}), ErrAlreadyRunning)

	close(release)
	orch.Wait()

	// A fresh run is accepted once the previous one drained.
	require.NoError(t, orch.Start(context.Background(), RunOptions{}))
	orch.Wait()
}

func TestStopEndsRunAtSourceBoundary(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore()
	seedSources(t, store, "alpha", "beta", "gamma")

	dispatcher := &stubDispatcher{}
	orch := NewOrchestrator(store, dispatcher, status.NewTracker(), time.Second, zap.NewNop())
	dispatcher.onProcess = func(artifact.Source) { orch.Stop() }

	require.NoError(t, orch.Start(context.Background(), RunOptions{Continuous: true}))
	orch.Wait()

	// Stop was requested while processing the first source, so the pass
	// ends before the second.
	require.Equal(t, []string{"alpha"}, dispatcher.names())
	require.False(t, orch.Running())
}

func TestContinuousRunCoolsDownBetweenPasses(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore()
	seedSources(t, store, "alpha")

	passes := make(chan struct{}, 8)
	dispatcher := &stubDispatcher{onProcess: func(artifact.Source) { passes <- struct{}{} }}
	sink := &phaseSink{}
	tracker := status.NewTracker(sink)
	orch := NewOrchestrator(store, dispatcher, tracker, time.Second, zap.NewNop())

	require.NoError(t, orch.Start(context.Background(), RunOptions{Continuous: true}))

	// Wait for two passes, which requires surviving one cooldown.
	for range 2 {
		select {
		case <-passes:
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for pass")
		}
	}
	orch.Stop()
	orch.Wait()

	require.Contains(t, sink.all(), status.PhaseCoolingDown)
	require.GreaterOrEqual(t, len(dispatcher.names()), 2)
}

func TestRunTargetsSingleSource(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore()
	srcs := seedSources(t, store, "alpha", "beta")

	dispatcher := &stubDispatcher{}
	orch := NewOrchestrator(store, dispatcher, status.NewTracker(), time.Second, zap.NewNop())

	require.NoError(t, orch.Start(context.Background(), RunOptions{SourceID: srcs[1].ID}))
	orch.Wait()

	require.Equal(t, []string{"beta"}, dispatcher.names())
}

func TestRunSurvivesPanickingProcessor(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore()
	seedSources(t, store, "alpha", "beta")

	dispatcher := &stubDispatcher{onProcess: func(src artifact.Source) {
		if src.Name == "alpha" {
			panic("processor blew up")
		}
	}}
	orch := NewOrchestrator(store, dispatcher, status.NewTracker(), time.Second, zap.NewNop())

	require.NoError(t, orch.Start(context.Background(), RunOptions{}))
	orch.Wait()

	require.Equal(t, []string{"alpha", "beta"}, dispatcher.names())
}

func TestCanceledContextEndsRun(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore()
	seedSources(t, store, "alpha", "beta")

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &stubDispatcher{onProcess: func(artifact.Source) { cancel() }}
	orch := NewOrchestrator(store, dispatcher, status.NewTracker(), time.Second, zap.NewNop())

	require.NoError(t, orch.Start(ctx, RunOptions{Continuous: true}))
	orch.Wait()

	require.Equal(t, []string{"alpha"}, dispatcher.names())
}
