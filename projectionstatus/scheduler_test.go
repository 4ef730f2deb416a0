package projectionstatus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtcore.dev/internal/clock"
	"evtcore.dev/projectionstatus"
	"evtcore.dev/widetable"
)

func TestSchedulerRunsRecoveryAcrossProjections(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFakeClock(time.Now().UTC())
	coord := projectionstatus.NewTableCoordinator(widetable.NewMock(), fake)

	_, err := coord.StartRebuild(ctx, "proj-a", "obj-1", "full", time.Second)
	require.NoError(t, err)
	_, err = coord.StartRebuild(ctx, "proj-b", "obj-1", "full", time.Second)
	require.NoError(t, err)
	fake.Advance(2 * time.Second)

	sched := projectionstatus.NewScheduler(coord, []string{"proj-a", "proj-b"}, 2)
	results := sched.Run(ctx)

	require.Len(t, results, 2)
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, 1, r.Recovered)
	}
}
