//go:build integration

package trust_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshtrust/trustd/internal/testutil"
	"github.com/meshtrust/trustd/internal/trust"
)

func TestPostgres_MetricsRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := trust.NewPostgresStore(db)
	ctx := context.Background()
	addr := "0xaaaa000000000000000000000000000000000001"

	_, err := store.GetMetrics(ctx, addr)
	require.ErrorIs(t, err, trust.ErrMetricsNotFound)

	m := trust.DefaultMetrics(addr, time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, store.PutMetrics(ctx, m))

	got, err := store.GetMetrics(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, addr, got.Address)
	assert.InDelta(t, m.CoreTrustScore, got.CoreTrustScore, 1e-9)

	// Upsert replaces the record.
	m.TransactionSuccessRate = 0.9
	require.NoError(t, store.PutMetrics(ctx, m))
	got, err = store.GetMetrics(ctx, addr)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.TransactionSuccessRate, 1e-9)
}

func TestPostgres_HistoryNewestFirst(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := trust.NewPostgresStore(db)
	ctx := context.Background()
	addr := "0xaaaa000000000000000000000000000000000002"

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendHistory(ctx, trust.ScoreSample{
			Address:    addr,
			Score:      float64(i) / 10,
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	samples, err := store.History(ctx, addr, 3)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.InDelta(t, 0.4, samples[0].Score, 1e-9)
	assert.InDelta(t, 0.2, samples[2].Score, 1e-9)

	n, err := store.CountUpdatesSince(ctx, addr, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
