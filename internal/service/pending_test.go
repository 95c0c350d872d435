package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"plate-lookup/internal/domain"
	"plate-lookup/internal/metrics"
	"plate-lookup/internal/repository"
	"plate-lookup/internal/store"
)

type brokenKV struct{ store.KV }

func (brokenKV) Get(context.Context, string) (string, error) { return "", errBackend }
func (brokenKV) Set(context.Context, string, string, time.Duration) error {
	return errBackend
}

func TestPendingTracker_CacheFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedPlate(t, "ABC-1", "-")
	env.seedPlate(t, "ABC-2", "-")
	env.seedPlate(t, "ABC-3", "H1")

	n, err := env.pending.Count(ctx, community)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.PendingPlates.WithLabelValues("_east")))

	// 命中缓存时不重新统计
	require.NoError(t, env.kv.Set(ctx, "plates:pending:_east", "7", time.Minute))
	n, err = env.pending.Count(ctx, community)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = env.pending.Recount(ctx, community)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	cached, err := env.kv.Get(ctx, "plates:pending:_east")
	require.NoError(t, err)
	assert.Equal(t, "2", cached)
}

func TestPendingTracker_KVFailureFallsBack(t *testing.T) {
	mem := repository.NewMemoryPlateStore()
	m := metrics.New()
	tracker := NewPendingTracker(mem, brokenKV{}, time.Minute, m, zap.NewNop())

	n, err := tracker.Count(context.Background(), community)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BestEffortErrors.WithLabelValues("pending_cache")))
}

func TestPendingTracker_StoreFailure(t *testing.T) {
	tracker := NewPendingTracker(countFailStore{}, store.NewMemoryKV(), time.Minute, nil, zap.NewNop())

	_, err := tracker.Count(context.Background(), community)
	assert.ErrorIs(t, err, ErrQueryFailed)

	var nilTracker *PendingTracker
	nilTracker.afterMutation(context.Background(), community)
}

type countFailStore struct{ repository.PlateStore }

func (countFailStore) CountPlatesByHousehold(context.Context, domain.Community, string) (int, error) {
	return 0, errors.New("count failed")
}

func TestPendingTracker_FailedRecountDropsCachedCount(t *testing.T) {
	kv := store.NewMemoryKV()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "plates:pending:_east", "7", time.Minute))
	tracker := NewPendingTracker(countFailStore{}, kv, time.Minute, nil, zap.NewNop())

	tracker.afterMutation(ctx, community)

	_, err := kv.Get(ctx, "plates:pending:_east")
	assert.ErrorIs(t, err, store.ErrMiss)
}
