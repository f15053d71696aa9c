package trust

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshtrust/trustd/internal/cache"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	c := cache.NewMemory(time.Minute)
	t.Cleanup(c.Stop)
	return NewService(store, c, 5*time.Minute), store
}

func ptr[T any](v T) *T { return &v }

func TestGetMetrics_CreatesDefaultOnFirstReference(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	m, err := svc.GetMetrics(ctx, "0xaaaa")
	require.NoError(t, err)
	assert.Equal(t, "0xaaaa", m.Address)
	assert.Equal(t, 0.5, m.TransactionSuccessRate)
	assert.Equal(t, 1.0, m.FraudPreventionScore)

	// Persisted, not just cached.
	stored, err := store.GetMetrics(ctx, "0xaaaa")
	require.NoError(t, err)
	assert.Equal(t, m.CoreTrustScore, stored.CoreTrustScore)
}

func TestUpdateMetrics_MergesAndRecomputes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.UpdateMetrics(ctx, "0xaaaa", UpdateRequest{
		TransactionSuccessRate: ptr(0.9),
		KYCVerificationLevel:   ptr(3),
	})
	require.NoError(t, err)
	assert.Equal(t, 0.9, m.TransactionSuccessRate)
	assert.Equal(t, 3, m.KYCVerificationLevel)
	// Untouched field keeps its default.
	assert.Equal(t, 0.5, m.ValidatorUptime)
	assert.Equal(t, ComputeScore(m), m.CoreTrustScore)

	// Second partial update leaves the first field in place.
	m2, err := svc.UpdateMetrics(ctx, "0xaaaa", UpdateRequest{ValidatorUptime: ptr(0.8)})
	require.NoError(t, err)
	assert.Equal(t, 0.9, m2.TransactionSuccessRate)
	assert.Equal(t, 0.8, m2.ValidatorUptime)
}

func TestUpdateMetrics_RejectsOutOfRange(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpdateMetrics(ctx, "0xaaaa", UpdateRequest{TransactionSuccessRate: ptr(1.5)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.UpdateMetrics(ctx, "0xaaaa", UpdateRequest{KYCVerificationLevel: ptr(9)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.UpdateMetrics(ctx, "0xaaaa", UpdateRequest{TimeOnNetwork: ptr(int64(-1))})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateMetrics_AppendsHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.UpdateMetrics(ctx, "0xaaaa", UpdateRequest{ValidatorUptime: ptr(float64(i) / 10)})
		require.NoError(t, err)
	}

	samples, err := svc.History(ctx, "0xaaaa", 10)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	// Most recent first.
	assert.True(t, !samples[0].RecordedAt.Before(samples[1].RecordedAt))

	count, err := svc.UpdatesInWindow(ctx, "0xaaaa", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestUpdateMetrics_InvalidatesCachedRecord(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	before, err := svc.GetMetrics(ctx, "0xaaaa")
	require.NoError(t, err)

	_, err = svc.UpdateMetrics(ctx, "0xaaaa", UpdateRequest{TransactionSuccessRate: ptr(0.95)})
	require.NoError(t, err)

	after, err := svc.GetMetrics(ctx, "0xaaaa")
	require.NoError(t, err)
	assert.NotEqual(t, before.CoreTrustScore, after.CoreTrustScore)
	assert.Equal(t, 0.95, after.TransactionSuccessRate)
}

func TestCacheTransparency(t *testing.T) {
	// The same store behind a real cache and a noop cache must return
	// identical values.
	store := NewMemoryStore()
	mem := cache.NewMemory(time.Minute)
	defer mem.Stop()

	cached := NewService(store, mem, 5*time.Minute)
	uncached := NewService(store, cache.Noop{}, 5*time.Minute)

	ctx := context.Background()
	_, err := cached.UpdateMetrics(ctx, "0xaaaa", UpdateRequest{ValidatorUptime: ptr(0.77)})
	require.NoError(t, err)

	a, err := cached.GetMetrics(ctx, "0xaaaa")
	require.NoError(t, err)
	b, err := uncached.GetMetrics(ctx, "0xaaaa")
	require.NoError(t, err)

	assert.Equal(t, a.CoreTrustScore, b.CoreTrustScore)
	assert.Equal(t, a.ValidatorUptime, b.ValidatorUptime)
}

func TestRecordMetric_ByName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.RecordMetric(ctx, "0xaaaa", "governance_participation", 0.9)
	require.NoError(t, err)
	assert.Equal(t, 0.9, m.GovernanceParticipation)

	m, err = svc.RecordMetric(ctx, "0xaaaa", "kyc_verification_level", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, m.KYCVerificationLevel)

	_, err = svc.RecordMetric(ctx, "0xaaaa", "no_such_metric", 0.5)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// historyFailStore fails AppendHistory after the record write succeeded.
type historyFailStore struct {
	*MemoryStore
	fail bool
}

func (s *historyFailStore) AppendHistory(ctx context.Context, sample ScoreSample) error {
	if s.fail {
		return fmt.Errorf("history write failed")
	}
	return s.MemoryStore.AppendHistory(ctx, sample)
}

func TestUpdateMetrics_HistoryFailureStillInvalidatesCache(t *testing.T) {
	store := &historyFailStore{MemoryStore: NewMemoryStore()}
	c := cache.NewMemory(time.Minute)
	t.Cleanup(c.Stop)
	svc := NewService(store, c, 5*time.Minute)
	ctx := context.Background()

	before, err := svc.GetMetrics(ctx, "0xaaaa") // warms the cache
	require.NoError(t, err)

	store.fail = true
	_, err = svc.UpdateMetrics(ctx, "0xaaaa", UpdateRequest{TransactionSuccessRate: ptr(0.95)})
	require.Error(t, err)

	// The record write went through before the history write failed; reads
	// must see the persisted record, not the pre-update cache entry.
	after, err := svc.GetMetrics(ctx, "0xaaaa")
	require.NoError(t, err)
	assert.Equal(t, 0.95, after.TransactionSuccessRate)
	assert.NotEqual(t, before.CoreTrustScore, after.CoreTrustScore)
}
