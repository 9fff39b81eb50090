package service

import (
	"sync"

	"github.com/google/uuid"

	"github.com/agentpay/escrow-engine/internal/fee"
	"github.com/agentpay/escrow-engine/internal/pkg/apperror"
)

// FeeConfig holds the live platform fee rate and the fee collector identity.
// Releases read the rate at the moment they run, so an administrative change
// applies to future releases without touching past fee amounts.
type FeeConfig struct {
	mu        sync.RWMutex
	bps       int64
	collector uuid.UUID
}

// NewFeeConfig validates the rate against the global cap; an out-of-range
// rate is rejected at configuration time, never at release time.
func NewFeeConfig(bps int64, collector uuid.UUID) (*FeeConfig, error) {
	if !fee.ValidBps(bps) {
		return nil, apperror.ErrFeeTooHigh
	}
	return &FeeConfig{bps: bps, collector: collector}, nil
}

func (c *FeeConfig) CurrentBps() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bps
}

func (c *FeeConfig) Collector() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collector
}

// SetBps updates the live rate within the cap.
func (c *FeeConfig) SetBps(bps int64) error {
	if !fee.ValidBps(bps) {
		return apperror.ErrFeeTooHigh
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bps = bps
	return nil
}
