package projectionstatus_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtcore.dev/errs"
	"evtcore.dev/internal/clock"
	"evtcore.dev/projectionstatus"
	"evtcore.dev/widetable"
)

func TestFullRebuildLifecycle(t *testing.T) {
	ctx := context.Background()
	coord := projectionstatus.NewTableCoordinator(widetable.NewMock(), nil)

	token, err := coord.StartRebuild(ctx, "orders-view", "obj-1", "full", time.Minute)
	require.NoError(t, err)

	rec, err := coord.GetStatus(ctx, "orders-view", "obj-1")
	require.NoError(t, err)
	assert.Equal(t, projectionstatus.Rebuilding, rec.Status)

	require.NoError(t, coord.StartCatchUp(ctx, "orders-view", "obj-1", token))
	require.NoError(t, coord.MarkReady(ctx, "orders-view", "obj-1", token))
	require.NoError(t, coord.CompleteRebuild(ctx, "orders-view", "obj-1", token))

	rec, err = coord.GetStatus(ctx, "orders-view", "obj-1")
	require.NoError(t, err)
	assert.Equal(t, projectionstatus.Active, rec.Status)
	assert.Nil(t, rec.ActiveToken)
}

func TestTransitionRejectsWrongToken(t *testing.T) {
	ctx := context.Background()
	coord := projectionstatus.NewTableCoordinator(widetable.NewMock(), nil)

	_, err := coord.StartRebuild(ctx, "orders-view", "obj-1", "full", time.Minute)
	require.NoError(t, err)

	err = coord.StartCatchUp(ctx, "orders-view", "obj-1", projectionstatus.RebuildToken{Token: "not-the-real-token"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidToken))
}

func TestTransitionRejectsExpiredToken(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFakeClock(time.Now().UTC())
	coord := projectionstatus.NewTableCoordinator(widetable.NewMock(), fake)

	token, err := coord.StartRebuild(ctx, "orders-view", "obj-1", "full", time.Second)
	require.NoError(t, err)

	fake.Advance(2 * time.Second)
	err = coord.StartCatchUp(ctx, "orders-view", "obj-1", token)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidToken))
}

func TestCancelRebuildWithErrorGoesToFailed(t *testing.T) {
	ctx := context.Background()
	coord := projectionstatus.NewTableCoordinator(widetable.NewMock(), nil)

	token, err := coord.StartRebuild(ctx, "orders-view", "obj-1", "full", time.Minute)
	require.NoError(t, err)

	require.NoError(t, coord.CancelRebuild(ctx, "orders-view", "obj-1", token, "downstream unavailable"))

	rec, err := coord.GetStatus(ctx, "orders-view", "obj-1")
	require.NoError(t, err)
	assert.Equal(t, projectionstatus.Failed, rec.Status)
	require.NotNil(t, rec.RebuildInfo)
	assert.Equal(t, "downstream unavailable", rec.RebuildInfo.Error)
}

func TestRecoverStuckRebuildsPromotesExpiredLeases(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFakeClock(time.Now().UTC())
	coord := projectionstatus.NewTableCoordinator(widetable.NewMock(), fake)

	_, err := coord.StartRebuild(ctx, "orders-view", "obj-1", "full", time.Second)
	require.NoError(t, err)
	_, err = coord.StartRebuild(ctx, "orders-view", "obj-2", "full", time.Hour)
	require.NoError(t, err)

	fake.Advance(2 * time.Second)

	recovered, err := coord.RecoverStuckRebuilds(ctx, "orders-view")
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	rec1, err := coord.GetStatus(ctx, "orders-view", "obj-1")
	require.NoError(t, err)
	assert.Equal(t, projectionstatus.Failed, rec1.Status)

	rec2, err := coord.GetStatus(ctx, "orders-view", "obj-2")
	require.NoError(t, err)
	assert.Equal(t, projectionstatus.Rebuilding, rec2.Status)
}

func TestGetByStatusFiltersWithinProjection(t *testing.T) {
	ctx := context.Background()
	coord := projectionstatus.NewTableCoordinator(widetable.NewMock(), nil)

	require.NoError(t, coord.Enable(ctx, "orders-view", "obj-1"))
	require.NoError(t, coord.Disable(ctx, "orders-view", "obj-2"))

	active, err := coord.GetByStatus(ctx, "orders-view", projectionstatus.Active)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "obj-1", active[0].ObjectID)

	disabled, err := coord.GetByStatus(ctx, "orders-view", projectionstatus.Disabled)
	require.NoError(t, err)
	require.Len(t, disabled, 1)
	assert.Equal(t, "obj-2", disabled[0].ObjectID)
}

func TestCachedCoordinatorServesFromCacheAndInvalidatesOnTransition(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := projectionstatus.NewTableCoordinator(widetable.NewMock(), nil)
	cached := projectionstatus.NewCachedCoordinatorWithClient(inner, client, time.Minute)

	token, err := cached.StartRebuild(ctx, "orders-view", "obj-1", "full", time.Minute)
	require.NoError(t, err)

	first, err := cached.GetStatus(ctx, "orders-view", "obj-1")
	require.NoError(t, err)
	assert.Equal(t, projectionstatus.Rebuilding, first.Status)

	require.NoError(t, cached.CompleteRebuild(ctx, "orders-view", "obj-1", token))

	second, err := cached.GetStatus(ctx, "orders-view", "obj-1")
	require.NoError(t, err)
	assert.Equal(t, projectionstatus.Active, second.Status, "cache must be invalidated by CompleteRebuild")
}
