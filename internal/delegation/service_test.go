package delegation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addr builds a deterministic valid wallet address.
func addr(n int) string {
	return fmt.Sprintf("0x%040d", n)
}

// recordingTrust is a TrustScores fake: every address scores 0.5 unless
// overridden, and quality write-backs are captured.
type recordingTrust struct {
	invalidated []string
	scores      map[string]float64
	quality     map[string]float64
}

func newRecordingTrust() *recordingTrust {
	return &recordingTrust{scores: make(map[string]float64), quality: make(map[string]float64)}
}

func (r *recordingTrust) InvalidateDerived(address string) {
	r.invalidated = append(r.invalidated, address)
}

func (r *recordingTrust) CoreScore(_ context.Context, address string) (float64, error) {
	if s, ok := r.scores[address]; ok {
		return s, nil
	}
	return 0.5, nil
}

func (r *recordingTrust) RecordDelegationQuality(_ context.Context, address string, q float64) error {
	r.quality[address] = q
	return nil
}

func newTestService(t *testing.T) (*Service, *recordingTrust) {
	t.Helper()
	inv := newRecordingTrust()
	return NewService(NewMemoryStore(), inv, 5), inv
}

func TestDelegate_CreatesActiveEdge(t *testing.T) {
	svc, inv := newTestService(t)
	ctx := context.Background()

	d, err := svc.Delegate(ctx, addr(1), addr(2), "100.5")
	require.NoError(t, err)
	assert.True(t, d.IsActive)
	assert.Equal(t, 1, d.Depth)
	assert.Equal(t, addr(1), d.Delegator)
	assert.Contains(t, d.ID, "del_")

	// Both parties' derived caches were invalidated.
	assert.Contains(t, inv.invalidated, addr(1))
	assert.Contains(t, inv.invalidated, addr(2))
}

func TestDelegate_RejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Delegate(ctx, "not-an-address", addr(2), "1")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Delegate(ctx, addr(1), addr(1), "1")
	assert.ErrorIs(t, err, ErrSelfDelegation)

	_, err = svc.Delegate(ctx, addr(1), addr(2), "0")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Delegate(ctx, addr(1), addr(2), "-5")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Delegate(ctx, addr(1), addr(2), "abc")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDelegate_RejectsCycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Delegate(ctx, addr(1), addr(2), "1") // A -> B
	require.NoError(t, err)
	_, err = svc.Delegate(ctx, addr(2), addr(3), "1") // B -> C
	require.NoError(t, err)

	// C -> A would close the cycle.
	_, err = svc.Delegate(ctx, addr(3), addr(1), "1")
	assert.ErrorIs(t, err, ErrCircularDelegation)

	// Graph unchanged: still exactly two edges around A.
	chain, err := svc.Chain(ctx, addr(1))
	require.NoError(t, err)
	assert.Len(t, chain, 1)
	chain, err = svc.Chain(ctx, addr(2))
	require.NoError(t, err)
	assert.Len(t, chain, 2)
}

func TestDelegate_RejectsDepthAtLimit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// A->B->C->D->E->F: five chained delegations with depth 1..5.
	for i := 1; i <= 5; i++ {
		d, err := svc.Delegate(ctx, addr(i), addr(i+1), "1")
		require.NoError(t, err)
		assert.Equal(t, i, d.Depth)
	}

	// F sits at depth 5, already at the limit.
	_, err := svc.Delegate(ctx, addr(6), addr(7), "1")
	assert.ErrorIs(t, err, ErrDepthExceeded)

	chain, err := svc.Chain(ctx, addr(7))
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestRevoke_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d, err := svc.Delegate(ctx, addr(1), addr(2), "1")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, d.ID))

	chain, err := svc.Chain(ctx, addr(1))
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.False(t, chain[0].IsActive)
	assert.NotNil(t, chain[0].RevokedAt)
	firstRevokedAt := *chain[0].RevokedAt

	// Second revoke: same end state, no error.
	require.NoError(t, svc.Revoke(ctx, d.ID))
	chain, err = svc.Chain(ctx, addr(1))
	require.NoError(t, err)
	assert.Equal(t, firstRevokedAt, *chain[0].RevokedAt)

	// Unknown id is also a no-op.
	require.NoError(t, svc.Revoke(ctx, "del_doesnotexist"))
}

func TestRevoke_ReopensPathForDelegation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Delegate(ctx, addr(1), addr(2), "1")
	require.NoError(t, err)
	d, err := svc.Delegate(ctx, addr(2), addr(3), "1")
	require.NoError(t, err)

	_, err = svc.Delegate(ctx, addr(3), addr(1), "1")
	require.ErrorIs(t, err, ErrCircularDelegation)

	// After revoking B->C the edge C->A no longer closes a cycle.
	require.NoError(t, svc.Revoke(ctx, d.ID))
	_, err = svc.Delegate(ctx, addr(3), addr(1), "1")
	assert.NoError(t, err)
}

func TestChain_NewestFirstIncludingInactive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Delegate(ctx, addr(1), addr(2), "1")
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, first.ID))
	_, err = svc.Delegate(ctx, addr(3), addr(1), "2")
	require.NoError(t, err)

	chain, err := svc.Chain(ctx, addr(1))
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.True(t, !chain[0].CreatedAt.Before(chain[1].CreatedAt))
}

func TestDetectCycle_CleanGraph(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Delegate(ctx, addr(1), addr(2), "1")
	require.NoError(t, err)

	path, err := svc.DetectCycle(ctx, addr(1))
	require.NoError(t, err)
	assert.Nil(t, path)
}

func TestDetectCycle_CorruptedGraph(t *testing.T) {
	// Load a cycle directly into the store, bypassing Delegate's check.
	store := NewMemoryStore()
	ctx := context.Background()
	for i, pair := range [][2]string{{addr(1), addr(2)}, {addr(2), addr(3)}, {addr(3), addr(1)}} {
		require.NoError(t, store.Create(ctx, &Delegation{
			ID:        fmt.Sprintf("del_%d", i),
			Delegator: pair[0],
			Delegate:  pair[1],
			Amount:    "1",
			IsActive:  true,
		}))
	}

	svc := NewService(store, newRecordingTrust(), 5)
	path, err := svc.DetectCycle(ctx, addr(1))
	require.NoError(t, err)
	assert.NotNil(t, path)
	assert.Equal(t, addr(1), path[0])
	assert.Equal(t, addr(1), path[len(path)-1])
}

func TestDelegateUntil_RejectsPastExpiry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	_, err := svc.DelegateUntil(ctx, addr(1), addr(2), "1", &past)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestExpiredEdgeLeavesActiveGraph(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// A->B exists but expired; it must not block B->A.
	expired := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Create(ctx, &Delegation{
		ID: "del_expired", Delegator: addr(1), Delegate: addr(2),
		Amount: "1", Depth: 1, IsActive: true,
		CreatedAt: expired.Add(-time.Hour), ExpiresAt: &expired,
	}))

	svc := NewService(store, newRecordingTrust(), 5)
	d, err := svc.Delegate(ctx, addr(2), addr(1), "1")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Depth)
}

func TestRefreshQuality_WeightsByAmount(t *testing.T) {
	svc, trust := newTestService(t)
	ctx := context.Background()

	trust.scores[addr(1)] = 0.9
	trust.scores[addr(2)] = 0.3

	_, err := svc.Delegate(ctx, addr(1), addr(3), "3")
	require.NoError(t, err)
	_, err = svc.Delegate(ctx, addr(2), addr(3), "1")
	require.NoError(t, err)

	// (3*0.9 + 1*0.3) / 4
	q, err := svc.RefreshQuality(ctx, addr(3))
	require.NoError(t, err)
	assert.InDelta(t, 0.75, q, 1e-9)
	assert.InDelta(t, 0.75, trust.quality[addr(3)], 1e-9)
}

func TestRefreshQuality_NoIncomingIsNeutral(t *testing.T) {
	svc, _ := newTestService(t)

	q, err := svc.RefreshQuality(context.Background(), addr(1))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, q, 1e-9)
}

func TestRevoke_RefreshesDelegateQuality(t *testing.T) {
	svc, trust := newTestService(t)
	ctx := context.Background()

	trust.scores[addr(1)] = 1.0
	d, err := svc.Delegate(ctx, addr(1), addr(2), "1")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, trust.quality[addr(2)], 1e-9)

	require.NoError(t, svc.Revoke(ctx, d.ID))
	assert.InDelta(t, 0.5, trust.quality[addr(2)], 1e-9)
}

func TestDelegate_ConcurrentOppositeEdges(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// A->B and B->A racing: exactly one may land.
	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = svc.Delegate(ctx, addr(1), addr(2), "1")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = svc.Delegate(ctx, addr(2), addr(1), "1")
	}()
	wg.Wait()

	var failures int
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrCircularDelegation)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	path, err := svc.DetectCycle(ctx, addr(1))
	require.NoError(t, err)
	assert.Nil(t, path)
}
