package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentpay/escrow-engine/internal/models"
)

// Stat mark kinds. One mark per agreement and kind makes the counter update
// idempotent per transition, not per call attempt.
const (
	statMarkDeposited = "deposited"
	statMarkCompleted = "completed"
	statMarkDisputed  = "disputed"
)

// StatsRepository maintains the per-identity counters in PostgreSQL.
type StatsRepository struct {
	db *sqlx.DB
}

func NewStatsRepository(db *sqlx.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

func (r *StatsRepository) RecordDeposit(ctx context.Context, agreementID, payer uuid.UUID, amount int64) error {
	return r.apply(ctx, agreementID, statMarkDeposited, payer, `
		INSERT INTO user_stats (user_id, total_volume_as_payer)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET total_volume_as_payer = user_stats.total_volume_as_payer + $2, updated_at = NOW()
	`, amount)
}

func (r *StatsRepository) RecordCompleted(ctx context.Context, agreementID, payer uuid.UUID) error {
	return r.apply(ctx, agreementID, statMarkCompleted, payer, `
		INSERT INTO user_stats (user_id, completed_deals)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET completed_deals = user_stats.completed_deals + $2, updated_at = NOW()
	`, 1)
}

func (r *StatsRepository) RecordDisputed(ctx context.Context, agreementID, raiser uuid.UUID) error {
	return r.apply(ctx, agreementID, statMarkDisputed, raiser, `
		INSERT INTO user_stats (user_id, disputed_deals)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET disputed_deals = user_stats.disputed_deals + $2, updated_at = NOW()
	`, 1)
}

func (r *StatsRepository) GetStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error) {
	var stats models.UserStats
	err := r.db.GetContext(ctx, &stats, `
		SELECT user_id, total_volume_as_payer, completed_deals, disputed_deals, updated_at
		FROM user_stats WHERE user_id = $1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.UserStats{UserID: userID, UpdatedAt: time.Now()}, nil
		}
		return nil, fmt.Errorf("stats repository: get: %w", err)
	}
	return &stats, nil
}

// apply claims the (agreement, kind) mark and increments the counter in one
// transaction; a second call for the same transition claims nothing and
// leaves the counter alone.
func (r *StatsRepository) apply(ctx context.Context, agreementID uuid.UUID, kind string, userID uuid.UUID, updateQuery string, delta int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("stats repository: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO stat_marks (agreement_id, kind) VALUES ($1, $2)
		ON CONFLICT (agreement_id, kind) DO NOTHING
	`, agreementID, kind)
	if err != nil {
		return fmt.Errorf("stats repository: claim mark: %w", err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stats repository: rows affected: %w", err)
	}
	if claimed == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, updateQuery, userID, delta); err != nil {
		return fmt.Errorf("stats repository: increment: %w", err)
	}

	return tx.Commit()
}

// MemoryStatsAggregator is the in-process counterpart used in tests and
// embedded setups.
type MemoryStatsAggregator struct {
	mu    sync.Mutex
	stats map[uuid.UUID]*models.UserStats
	marks map[string]struct{}
}

func NewMemoryStatsAggregator() *MemoryStatsAggregator {
	return &MemoryStatsAggregator{
		stats: make(map[uuid.UUID]*models.UserStats),
		marks: make(map[string]struct{}),
	}
}

func (a *MemoryStatsAggregator) RecordDeposit(_ context.Context, agreementID, payer uuid.UUID, amount int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.claim(agreementID, statMarkDeposited) {
		return nil
	}
	a.entry(payer).TotalVolumeAsPayer += amount
	return nil
}

func (a *MemoryStatsAggregator) RecordCompleted(_ context.Context, agreementID, payer uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.claim(agreementID, statMarkCompleted) {
		return nil
	}
	a.entry(payer).CompletedDeals++
	return nil
}

func (a *MemoryStatsAggregator) RecordDisputed(_ context.Context, agreementID, raiser uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.claim(agreementID, statMarkDisputed) {
		return nil
	}
	a.entry(raiser).DisputedDeals++
	return nil
}

func (a *MemoryStatsAggregator) GetStats(_ context.Context, userID uuid.UUID) (*models.UserStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if stats, ok := a.stats[userID]; ok {
		clone := *stats
		return &clone, nil
	}
	return &models.UserStats{UserID: userID, UpdatedAt: time.Now()}, nil
}

func (a *MemoryStatsAggregator) claim(agreementID uuid.UUID, kind string) bool {
	key := agreementID.String() + ":" + kind
	if _, ok := a.marks[key]; ok {
		return false
	}
	a.marks[key] = struct{}{}
	return true
}

func (a *MemoryStatsAggregator) entry(userID uuid.UUID) *models.UserStats {
	stats, ok := a.stats[userID]
	if !ok {
		stats = &models.UserStats{UserID: userID}
		a.stats[userID] = stats
	}
	stats.UpdatedAt = time.Now()
	return stats
}
