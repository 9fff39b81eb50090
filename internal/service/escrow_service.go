package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/agentpay/escrow-engine/internal/fee"
	"github.com/agentpay/escrow-engine/internal/logger"
	"github.com/agentpay/escrow-engine/internal/models"
	"github.com/agentpay/escrow-engine/internal/pkg/apperror"
	"github.com/agentpay/escrow-engine/internal/transfer"
)

// AgreementStore is the persistence the engine runs on. Update must apply
// the mutator atomically with respect to concurrent callers on the same id;
// a mutator error rolls the whole operation back.
type AgreementStore interface {
	Create(ctx context.Context, agreement *models.Agreement) error
	Get(ctx context.Context, id uuid.UUID) (*models.Agreement, error)
	Update(ctx context.Context, id uuid.UUID, mutator func(*models.Agreement) error) (*models.Agreement, error)
	ListByParty(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Agreement, error)
}

// StatsAggregator applies per-identity counter increments as a side effect of
// transitions. Implementations must be idempotent per agreement transition.
type StatsAggregator interface {
	RecordDeposit(ctx context.Context, agreementID, payer uuid.UUID, amount int64) error
	RecordCompleted(ctx context.Context, agreementID, payer uuid.UUID) error
	RecordDisputed(ctx context.Context, agreementID, raiser uuid.UUID) error
	GetStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error)
}

// Journal receives one entry per value movement for audit.
type Journal interface {
	Append(ctx context.Context, entry *models.Transaction) error
}

// EventSink consumes domain events emitted after committed transitions.
type EventSink interface {
	Publish(ctx context.Context, event models.Event)
}

// MilestoneInput describes one milestone at agreement creation.
type MilestoneInput struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// CreateAgreementParams are the caller-supplied fields of a new agreement.
type CreateAgreementParams struct {
	ID          uuid.UUID
	Payee       uuid.UUID
	Asset       string
	Description string
	Milestones  []MilestoneInput
}

// EscrowService is the escrow state machine: it validates preconditions,
// moves value through the transfer adapter and commits agreement state
// atomically per agreement.
type EscrowService struct {
	store   AgreementStore
	adapter transfer.Adapter
	gate    *AuthGate
	stats   StatsAggregator
	feeCfg  *FeeConfig

	// escrowAccount is the identity holding funds in trust between deposit
	// and release.
	escrowAccount uuid.UUID
	timeout       time.Duration

	journal Journal
	events  EventSink
	now     func() time.Time
}

func NewEscrowService(store AgreementStore, adapter transfer.Adapter, gate *AuthGate, stats StatsAggregator, feeCfg *FeeConfig, escrowAccount uuid.UUID, timeout time.Duration) *EscrowService {
	return &EscrowService{
		store:         store,
		adapter:       adapter,
		gate:          gate,
		stats:         stats,
		feeCfg:        feeCfg,
		escrowAccount: escrowAccount,
		timeout:       timeout,
		now:           time.Now,
	}
}

// SetJournal attaches the value-movement journal.
func (s *EscrowService) SetJournal(journal Journal) {
	s.journal = journal
}

// SetEventSink attaches the domain event sink.
func (s *EscrowService) SetEventSink(sink EventSink) {
	s.events = sink
}

// SetClock overrides the time source; used by tests.
func (s *EscrowService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateAgreement registers a new PENDING agreement. The caller becomes the
// payer. For milestone agreements the total is fixed to the milestone sum;
// lump-sum agreements take their total from the later deposit.
func (s *EscrowService) CreateAgreement(ctx context.Context, caller uuid.UUID, params CreateAgreementParams) (*models.Agreement, error) {
	if caller == uuid.Nil {
		return nil, apperror.ErrNotAuthorized
	}
	if params.ID == uuid.Nil || params.Payee == uuid.Nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "agreement id and payee are required")
	}
	if params.Payee == caller {
		return nil, apperror.New(apperror.ErrCodeValidation, "payee must differ from payer")
	}

	asset := params.Asset
	if asset == "" {
		asset = models.AssetNative
	}

	agreement := &models.Agreement{
		ID:          params.ID,
		Payer:       caller,
		Payee:       params.Payee,
		Asset:       asset,
		Status:      models.AgreementStatusPending,
		Description: params.Description,
		CreatedAt:   s.now(),
	}

	if len(params.Milestones) > 0 {
		agreement.UseMilestones = true
		agreement.Milestones = make([]models.Milestone, 0, len(params.Milestones))
		var total int64
		for i, m := range params.Milestones {
			if m.Amount <= 0 {
				return nil, apperror.ErrInvalidAmount
			}
			total += m.Amount
			agreement.Milestones = append(agreement.Milestones, models.Milestone{
				AgreementID: params.ID,
				Idx:         i,
				Amount:      m.Amount,
				Description: m.Description,
			})
		}
		agreement.TotalAmount = total
	}

	if err := s.store.Create(ctx, agreement); err != nil {
		return nil, err
	}

	s.emit(ctx, models.Event{
		Type:        models.EventAgreementCreated,
		AgreementID: agreement.ID,
		Actor:       caller,
		Asset:       asset,
		Amount:      agreement.TotalAmount,
	})
	return agreement, nil
}

// DepositPayment funds a PENDING agreement. Value moves from the payer into
// the escrow account atomically with the FUNDED transition; a failed transfer
// commits nothing.
func (s *EscrowService) DepositPayment(ctx context.Context, caller, id uuid.UUID, amount int64) (*models.Agreement, error) {
	var depositedTotal int64
	updated, err := s.store.Update(ctx, id, func(a *models.Agreement) error {
		if err := s.gate.Require(ctx, caller, a, RolePayer); err != nil {
			return err
		}
		if a.Status != models.AgreementStatusPending {
			return apperror.ErrInvalidStatus
		}
		if amount <= 0 {
			return apperror.ErrInvalidAmount
		}
		if a.UseMilestones && amount != a.TotalAmount {
			return apperror.ErrInvalidAmount
		}

		if err := s.adapter.TransferFrom(ctx, a.Asset, a.Payer, s.escrowAccount, amount); err != nil {
			return transferError(err)
		}

		if !a.UseMilestones {
			a.TotalAmount = amount
		}
		a.RemainingAmount = a.TotalAmount
		a.Status = models.AgreementStatusFunded
		deadline := s.now().Add(s.timeout)
		a.ReleaseTimeout = &deadline
		depositedTotal = a.TotalAmount
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordStats(func() error { return s.stats.RecordDeposit(ctx, id, updated.Payer, depositedTotal) })
	s.journalEntry(ctx, updated, updated.Payer, models.TransactionTypeDeposit, depositedTotal, "funds held in escrow")
	s.emit(ctx, models.Event{
		Type:        models.EventPaymentDeposited,
		AgreementID: id,
		Actor:       caller,
		Asset:       updated.Asset,
		Amount:      depositedTotal,
	})
	return updated, nil
}

// CompleteMilestone marks one milestone completed. Completing a milestone
// twice fails; the flag never unsets.
func (s *EscrowService) CompleteMilestone(ctx context.Context, caller, id uuid.UUID, index int) (*models.Agreement, error) {
	updated, err := s.store.Update(ctx, id, func(a *models.Agreement) error {
		if err := s.gate.Require(ctx, caller, a, RolePayer); err != nil {
			return err
		}
		if a.Status != models.AgreementStatusFunded || !a.UseMilestones {
			return apperror.ErrInvalidStatus
		}
		if index < 0 || index >= len(a.Milestones) {
			return apperror.ErrInvalidMilestoneIndex
		}
		if a.Milestones[index].Completed {
			return apperror.ErrInvalidStatus
		}
		a.Milestones[index].Completed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, models.Event{
		Type:         models.EventMilestoneCompleted,
		AgreementID:  id,
		Actor:        caller,
		MilestoneIdx: &index,
	})
	return updated, nil
}

// ReleaseFunds pays the payee. In milestone mode the index selects one
// completed, unreleased milestone; in lump-sum mode the full remainder is
// released and index must be nil. The agreement becomes RELEASED exactly
// when the remainder reaches zero.
func (s *EscrowService) ReleaseFunds(ctx context.Context, caller, id uuid.UUID, milestoneIndex *int) (*models.Agreement, error) {
	var (
		releaseAmount int64
		feeAmount     int64
		fullyReleased bool
	)
	updated, err := s.store.Update(ctx, id, func(a *models.Agreement) error {
		if err := s.gate.Require(ctx, caller, a, RolePayer); err != nil {
			return err
		}
		if a.Status != models.AgreementStatusFunded {
			return apperror.ErrInvalidStatus
		}

		if a.UseMilestones {
			if milestoneIndex == nil {
				return apperror.ErrInvalidMilestoneIndex
			}
			idx := *milestoneIndex
			if idx < 0 || idx >= len(a.Milestones) {
				return apperror.ErrInvalidMilestoneIndex
			}
			m := &a.Milestones[idx]
			if !m.Completed {
				return apperror.ErrMilestoneNotCompleted
			}
			if m.Released {
				return apperror.ErrInvalidStatus
			}
			releaseAmount = m.Amount
			m.Released = true
		} else {
			if milestoneIndex != nil {
				return apperror.ErrInvalidMilestoneIndex
			}
			releaseAmount = a.RemainingAmount
		}

		feeAmount = fee.Calc(releaseAmount, s.feeCfg.CurrentBps())
		if err := s.payout(ctx, a.Asset, a.Payee, releaseAmount-feeAmount, feeAmount); err != nil {
			return err
		}

		a.RemainingAmount -= releaseAmount
		a.FeeAccrued += feeAmount
		if a.RemainingAmount == 0 {
			a.Status = models.AgreementStatusReleased
			fullyReleased = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if fullyReleased {
		s.recordStats(func() error { return s.stats.RecordCompleted(ctx, id, updated.Payer) })
	}
	s.journalEntry(ctx, updated, updated.Payee, models.TransactionTypePayout, releaseAmount-feeAmount, "escrow release")
	if feeAmount > 0 {
		s.journalEntry(ctx, updated, s.feeCfg.Collector(), models.TransactionTypeFee, feeAmount, "platform fee")
	}
	s.emit(ctx, models.Event{
		Type:         models.EventFundsReleased,
		AgreementID:  id,
		Actor:        caller,
		Asset:        updated.Asset,
		Amount:       releaseAmount,
		Fee:          feeAmount,
		MilestoneIdx: milestoneIndex,
	})
	return updated, nil
}

// RaiseDispute freezes a FUNDED agreement until an arbitrator resolves it.
func (s *EscrowService) RaiseDispute(ctx context.Context, caller, id uuid.UUID) (*models.Agreement, error) {
	updated, err := s.store.Update(ctx, id, func(a *models.Agreement) error {
		if err := s.gate.Require(ctx, caller, a, RoleEitherParty); err != nil {
			return err
		}
		if a.Status != models.AgreementStatusFunded {
			return apperror.ErrInvalidStatus
		}
		a.Status = models.AgreementStatusDisputed
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordStats(func() error { return s.stats.RecordDisputed(ctx, id, caller) })
	s.emit(ctx, models.Event{
		Type:        models.EventDisputeRaised,
		AgreementID: id,
		Actor:       caller,
	})
	return updated, nil
}

// ResolveDispute splits the remaining funds between payer and payee.
// refundBps of the remainder returns to the payer; the platform fee is
// computed on the full remainder and withheld from the payee share, which may
// leave the payee with zero.
func (s *EscrowService) ResolveDispute(ctx context.Context, caller, id uuid.UUID, refundBps int64) (*models.Agreement, error) {
	if refundBps < 0 || refundBps > fee.BpsDenominator {
		return nil, apperror.ErrInvalidAmount
	}

	var refund, payout, withheld int64
	updated, err := s.store.Update(ctx, id, func(a *models.Agreement) error {
		if err := s.gate.Require(ctx, caller, nil, RoleArbitrator); err != nil {
			return err
		}
		if a.Status != models.AgreementStatusDisputed {
			return apperror.ErrInvalidStatus
		}

		refund, payout, withheld = fee.SplitDispute(a.RemainingAmount, refundBps, s.feeCfg.CurrentBps())

		if refund > 0 {
			if err := s.adapter.Transfer(ctx, a.Asset, a.Payer, refund); err != nil {
				return transferError(err)
			}
		}
		if err := s.payout(ctx, a.Asset, a.Payee, payout, withheld); err != nil {
			return err
		}

		a.RemainingAmount = 0
		a.FeeAccrued += withheld
		a.Status = models.AgreementStatusReleased
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordStats(func() error { return s.stats.RecordCompleted(ctx, id, updated.Payer) })
	if refund > 0 {
		s.journalEntry(ctx, updated, updated.Payer, models.TransactionTypeRefund, refund, "dispute refund")
	}
	if payout > 0 {
		s.journalEntry(ctx, updated, updated.Payee, models.TransactionTypePayout, payout, "dispute release")
	}
	if withheld > 0 {
		s.journalEntry(ctx, updated, s.feeCfg.Collector(), models.TransactionTypeFee, withheld, "platform fee")
	}
	s.emit(ctx, models.Event{
		Type:          models.EventDisputeResolved,
		AgreementID:   id,
		Actor:         caller,
		Asset:         updated.Asset,
		RefundAmount:  refund,
		ReleaseAmount: payout,
		Fee:           withheld,
	})
	return updated, nil
}

// CancelAgreement aborts an agreement. A PENDING agreement may be cancelled
// by either party without any fund movement; a FUNDED agreement only by the
// payer, refunding the full remainder with no fee taken.
func (s *EscrowService) CancelAgreement(ctx context.Context, caller, id uuid.UUID) (*models.Agreement, error) {
	var refunded int64
	updated, err := s.store.Update(ctx, id, func(a *models.Agreement) error {
		switch a.Status {
		case models.AgreementStatusPending:
			if err := s.gate.Require(ctx, caller, a, RoleEitherParty); err != nil {
				return err
			}
			a.Status = models.AgreementStatusCancelled
			return nil
		case models.AgreementStatusFunded:
			if err := s.gate.Require(ctx, caller, a, RolePayer); err != nil {
				return err
			}
			refunded = a.RemainingAmount
			if err := s.adapter.Transfer(ctx, a.Asset, a.Payer, refunded); err != nil {
				return transferError(err)
			}
			a.RemainingAmount = 0
			a.Status = models.AgreementStatusRefunded
			return nil
		default:
			return apperror.ErrInvalidStatus
		}
	})
	if err != nil {
		return nil, err
	}

	if refunded > 0 {
		s.journalEntry(ctx, updated, updated.Payer, models.TransactionTypeRefund, refunded, "cancellation refund")
		s.emit(ctx, models.Event{
			Type:         models.EventRefundIssued,
			AgreementID:  id,
			Actor:        caller,
			Asset:        updated.Asset,
			RefundAmount: refunded,
		})
	} else {
		s.emit(ctx, models.Event{
			Type:        models.EventAgreementCancelled,
			AgreementID: id,
			Actor:       caller,
		})
	}
	return updated, nil
}

// AutoRelease releases the full remainder to the payee once the release
// timeout has passed. Any identity may call it; that is the liveness
// guarantee for payees facing an unresponsive payer. A second call after the
// agreement is already terminal fails harmlessly with InvalidStatus.
func (s *EscrowService) AutoRelease(ctx context.Context, caller, id uuid.UUID) (*models.Agreement, error) {
	var (
		releaseAmount int64
		feeAmount     int64
	)
	updated, err := s.store.Update(ctx, id, func(a *models.Agreement) error {
		if a.Status != models.AgreementStatusFunded {
			return apperror.ErrInvalidStatus
		}
		if a.ReleaseTimeout == nil || s.now().Before(*a.ReleaseTimeout) {
			return apperror.ErrTimeoutNotReached
		}

		releaseAmount = a.RemainingAmount
		feeAmount = fee.Calc(releaseAmount, s.feeCfg.CurrentBps())
		if err := s.payout(ctx, a.Asset, a.Payee, releaseAmount-feeAmount, feeAmount); err != nil {
			return err
		}

		for i := range a.Milestones {
			a.Milestones[i].Released = true
		}
		a.RemainingAmount = 0
		a.FeeAccrued += feeAmount
		a.Status = models.AgreementStatusReleased
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordStats(func() error { return s.stats.RecordCompleted(ctx, id, updated.Payer) })
	s.journalEntry(ctx, updated, updated.Payee, models.TransactionTypePayout, releaseAmount-feeAmount, "auto release")
	if feeAmount > 0 {
		s.journalEntry(ctx, updated, s.feeCfg.Collector(), models.TransactionTypeFee, feeAmount, "platform fee")
	}
	s.emit(ctx, models.Event{
		Type:        models.EventFundsReleased,
		AgreementID: id,
		Actor:       caller,
		Asset:       updated.Asset,
		Amount:      releaseAmount,
		Fee:         feeAmount,
	})
	return updated, nil
}

// GetAgreement returns one agreement to its parties, arbitrators or admins.
func (s *EscrowService) GetAgreement(ctx context.Context, caller, id uuid.UUID) (*models.Agreement, error) {
	agreement, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.gate.RequireReader(ctx, caller, agreement); err != nil {
		return nil, err
	}
	return agreement, nil
}

// GetMilestones returns the milestone list of an agreement.
func (s *EscrowService) GetMilestones(ctx context.Context, caller, id uuid.UUID) ([]models.Milestone, error) {
	agreement, err := s.GetAgreement(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return agreement.Milestones, nil
}

// CanAutoRelease reports whether autoRelease would currently be permitted.
// Purely an eligibility judgment; it never mutates anything.
func (s *EscrowService) CanAutoRelease(ctx context.Context, id uuid.UUID) (bool, *time.Time, error) {
	agreement, err := s.store.Get(ctx, id)
	if err != nil {
		return false, nil, err
	}
	if agreement.Status != models.AgreementStatusFunded || agreement.ReleaseTimeout == nil {
		return false, agreement.ReleaseTimeout, nil
	}
	return !s.now().Before(*agreement.ReleaseTimeout), agreement.ReleaseTimeout, nil
}

// ListMyAgreements enumerates agreements where the caller is a party.
func (s *EscrowService) ListMyAgreements(ctx context.Context, caller uuid.UUID, limit, offset int) ([]models.Agreement, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListByParty(ctx, caller, limit, offset)
}

// GetStats returns the caller's aggregated counters.
func (s *EscrowService) GetStats(ctx context.Context, caller uuid.UUID) (*models.UserStats, error) {
	return s.stats.GetStats(ctx, caller)
}

// payout moves the payee share and the platform fee out of escrow.
func (s *EscrowService) payout(ctx context.Context, asset string, payee uuid.UUID, amount, feeAmount int64) error {
	if amount > 0 {
		if err := s.adapter.Transfer(ctx, asset, payee, amount); err != nil {
			return transferError(err)
		}
	}
	if feeAmount > 0 {
		if err := s.adapter.Transfer(ctx, asset, s.feeCfg.Collector(), feeAmount); err != nil {
			return transferError(err)
		}
	}
	return nil
}

// recordStats applies a counter update after the transition committed.
// Failures are logged, not propagated: the transition itself already
// happened and the aggregator is idempotent, so a retry path exists.
func (s *EscrowService) recordStats(apply func() error) {
	if err := apply(); err != nil && logger.Log != nil {
		logger.Log.WithError(err).Warn("escrow: stats update failed")
	}
}

func (s *EscrowService) journalEntry(ctx context.Context, a *models.Agreement, userID uuid.UUID, entryType string, amount int64, description string) {
	if s.journal == nil || amount <= 0 {
		return
	}
	err := s.journal.Append(ctx, &models.Transaction{
		UserID:      userID,
		AgreementID: a.ID,
		Type:        entryType,
		Asset:       a.Asset,
		Amount:      amount,
		Description: description,
	})
	if err != nil && logger.Log != nil {
		logger.Log.WithError(err).Warn("escrow: journal append failed")
	}
}

func (s *EscrowService) emit(ctx context.Context, event models.Event) {
	if s.events == nil {
		return
	}
	event.At = s.now()
	s.events.Publish(ctx, event)
	if logger.Log != nil {
		logger.Log.WithFields(logrus.Fields{
			"event":     event.Type,
			"agreement": event.AgreementID,
			"actor":     event.Actor,
		}).Debug("escrow: event emitted")
	}
}

// transferError normalizes adapter failures into the engine taxonomy while
// preserving already-coded errors such as InsufficientBalance.
func transferError(err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.Wrap(err, apperror.ErrCodeTransferFailed, "value transfer failed")
}
