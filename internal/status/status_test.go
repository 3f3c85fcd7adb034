package status

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (c *captureSink) Report(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, snap)
}

func (c *captureSink) all() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Snapshot(nil), c.snaps...)
}

func TestTrackerStartsIdle(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	tr := NewTracker(sink)

	require.Equal(t, Snapshot{Phase: PhaseIdle}, tr.Snapshot())
	require.Equal(t, []Snapshot{{Phase: PhaseIdle}}, sink.all())
}

func TestTrackerFansOutTransitions(t *testing.T) {
	t.Parallel()

	a, b := &captureSink{}, &captureSink{}
	tr := NewTracker(a, b)

	tr.Set(PhaseStarting, "")
	tr.Set(PhaseRunning, "The Met")
	tr.Set(PhaseIdle, "")

	want := []Snapshot{
		{Phase: PhaseIdle},
		{Phase: PhaseStarting},
		{Phase: PhaseRunning, CurrentSource: "The Met"},
		{Phase: PhaseIdle},
	}
	require.Equal(t, want, a.all())
	require.Equal(t, want, b.all())
	require.Equal(t, Snapshot{Phase: PhaseIdle}, tr.Snapshot())
}

func TestTrackerContinuousFlagSticks(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.SetContinuous(true)
	tr.Set(PhaseRunning, "wiki")

	snap := tr.Snapshot()
	require.True(t, snap.Continuous)
	require.Equal(t, PhaseRunning, snap.Phase)
}
