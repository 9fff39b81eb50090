package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStats_DepositIdempotent(t *testing.T) {
	stats := NewMemoryStatsAggregator()
	ctx := context.Background()

	payer := uuid.New()
	agreementID := uuid.New()

	require.NoError(t, stats.RecordDeposit(ctx, agreementID, payer, 10000))
	// a retry of the same transition must not double-count
	require.NoError(t, stats.RecordDeposit(ctx, agreementID, payer, 10000))

	got, err := stats.GetStats(ctx, payer)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), got.TotalVolumeAsPayer)

	// a different agreement adds normally
	require.NoError(t, stats.RecordDeposit(ctx, uuid.New(), payer, 2500))
	got, err = stats.GetStats(ctx, payer)
	require.NoError(t, err)
	assert.Equal(t, int64(12500), got.TotalVolumeAsPayer)
}

func TestMemoryStats_CompletedAndDisputedIdempotent(t *testing.T) {
	stats := NewMemoryStatsAggregator()
	ctx := context.Background()

	payer := uuid.New()
	raiser := uuid.New()
	agreementID := uuid.New()

	require.NoError(t, stats.RecordCompleted(ctx, agreementID, payer))
	require.NoError(t, stats.RecordCompleted(ctx, agreementID, payer))
	require.NoError(t, stats.RecordDisputed(ctx, agreementID, raiser))
	require.NoError(t, stats.RecordDisputed(ctx, agreementID, raiser))

	payerStats, err := stats.GetStats(ctx, payer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), payerStats.CompletedDeals)

	raiserStats, err := stats.GetStats(ctx, raiser)
	require.NoError(t, err)
	assert.Equal(t, int64(1), raiserStats.DisputedDeals)
}

func TestMemoryStats_MarksAreScopedPerKind(t *testing.T) {
	stats := NewMemoryStatsAggregator()
	ctx := context.Background()

	user := uuid.New()
	agreementID := uuid.New()

	// the same agreement can claim one mark of each kind
	require.NoError(t, stats.RecordDeposit(ctx, agreementID, user, 100))
	require.NoError(t, stats.RecordCompleted(ctx, agreementID, user))
	require.NoError(t, stats.RecordDisputed(ctx, agreementID, user))

	got, err := stats.GetStats(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.TotalVolumeAsPayer)
	assert.Equal(t, int64(1), got.CompletedDeals)
	assert.Equal(t, int64(1), got.DisputedDeals)
}

func TestMemoryStats_UnknownUserIsZero(t *testing.T) {
	stats := NewMemoryStatsAggregator()

	got, err := stats.GetStats(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Zero(t, got.TotalVolumeAsPayer)
	assert.Zero(t, got.CompletedDeals)
	assert.Zero(t, got.DisputedDeals)
}
