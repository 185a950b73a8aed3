package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackerAggregatesWorkers(t *testing.T) {
	tracker := NewTracker("run-1")

	tracker.Update(1, 10, 2, 50, "42000010")
	tracker.Update(0, 5, 0, 50, "42000055")
	tracker.Update(1, 11, 2, 50, "42000009")

	status := tracker.Snapshot()
	require.Equal(t, "run-1", status.RunID)
	require.Len(t, status.Workers, 2)
	require.Equal(t, 0, status.Workers[0].Worker, "workers are ordered by index")
	require.Equal(t, 1, status.Workers[1].Worker)
	require.Equal(t, 11, status.Workers[1].Processed, "latest update wins")
	require.Equal(t, 16, status.Processed)
	require.Equal(t, 2, status.Failed)
	require.Equal(t, 100, status.Total)
}

func TestTrackerEmptySnapshot(t *testing.T) {
	status := NewTracker("run-2").Snapshot()
	require.Empty(t, status.Workers)
	require.Zero(t, status.Processed)
	require.NotEmpty(t, status.StartedAt)
}

func TestTrackerConcurrentUpdates(t *testing.T) {
	tracker := NewTracker("run-3")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i <= 100; i++ {
				tracker.Update(w, i, 0, 100, "")
			}
		}(w)
	}
	wg.Wait()

	status := tracker.Snapshot()
	require.Equal(t, 800, status.Processed)
	require.Equal(t, 800, status.Total)
}
