package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpay/escrow-engine/internal/models"
	"github.com/agentpay/escrow-engine/internal/pkg/apperror"
	"github.com/agentpay/escrow-engine/internal/repository"
	"github.com/agentpay/escrow-engine/internal/transfer"
)

type captureSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (c *captureSink) Publish(_ context.Context, event models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureSink) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

type testEnv struct {
	svc        *EscrowService
	store      *repository.MemoryAgreementStore
	adapter    *transfer.FakeAdapter
	stats      *repository.MemoryStatsAggregator
	sink       *captureSink
	payer      uuid.UUID
	payee      uuid.UUID
	arbitrator uuid.UUID
	collector  uuid.UUID
	vault      uuid.UUID
	now        time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:      repository.NewMemoryAgreementStore(),
		adapter:    transfer.NewFakeAdapter(),
		stats:      repository.NewMemoryStatsAggregator(),
		sink:       &captureSink{},
		payer:      uuid.New(),
		payee:      uuid.New(),
		arbitrator: uuid.New(),
		collector:  uuid.New(),
		vault:      uuid.New(),
		now:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	feeCfg, err := NewFeeConfig(250, env.collector)
	require.NoError(t, err)

	gate := NewAuthGate(repository.NewStaticRoleRegistry(nil, []uuid.UUID{env.arbitrator}))
	env.svc = NewEscrowService(env.store, env.adapter, gate, env.stats, feeCfg, env.vault, 72*time.Hour)
	env.svc.SetEventSink(env.sink)
	env.svc.SetClock(func() time.Time { return env.now })
	return env
}

func (env *testEnv) createLumpSum(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := env.svc.CreateAgreement(context.Background(), env.payer, CreateAgreementParams{
		ID:    id,
		Payee: env.payee,
	})
	require.NoError(t, err)
	return id
}

func (env *testEnv) createWithMilestones(t *testing.T, amounts ...int64) uuid.UUID {
	t.Helper()
	milestones := make([]MilestoneInput, len(amounts))
	for i, amount := range amounts {
		milestones[i] = MilestoneInput{Amount: amount}
	}
	id := uuid.New()
	_, err := env.svc.CreateAgreement(context.Background(), env.payer, CreateAgreementParams{
		ID:         id,
		Payee:      env.payee,
		Milestones: milestones,
	})
	require.NoError(t, err)
	return id
}

func TestCreateAgreement_LumpSum(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createLumpSum(t)

	agreement, err := env.svc.GetAgreement(ctx, env.payer, id)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusPending, agreement.Status)
	assert.Equal(t, int64(0), agreement.TotalAmount)
	assert.False(t, agreement.UseMilestones)
	assert.Equal(t, []string{models.EventAgreementCreated}, env.sink.types())
}

func TestCreateAgreement_MilestoneTotal(t *testing.T) {
	env := newTestEnv(t)
	id := env.createWithMilestones(t, 6000, 4000)

	agreement, err := env.svc.GetAgreement(context.Background(), env.payee, id)
	require.NoError(t, err)
	assert.True(t, agreement.UseMilestones)
	assert.Equal(t, int64(10000), agreement.TotalAmount)
	assert.Len(t, agreement.Milestones, 2)
}

func TestCreateAgreement_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateAgreement(ctx, env.payer, CreateAgreementParams{ID: uuid.New(), Payee: env.payer})
	assert.Error(t, err)

	_, err = env.svc.CreateAgreement(ctx, env.payer, CreateAgreementParams{
		ID: uuid.New(), Payee: env.payee,
		Milestones: []MilestoneInput{{Amount: 0}},
	})
	assert.ErrorIs(t, err, apperror.ErrInvalidAmount)

	id := env.createLumpSum(t)
	_, err = env.svc.CreateAgreement(ctx, env.payer, CreateAgreementParams{ID: id, Payee: env.payee})
	assert.ErrorIs(t, err, apperror.ErrAgreementExists)
}

func TestDepositPayment_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createLumpSum(t)

	agreement, err := env.svc.DepositPayment(ctx, env.payer, id, 10000)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusFunded, agreement.Status)
	assert.Equal(t, int64(10000), agreement.TotalAmount)
	assert.Equal(t, int64(10000), agreement.RemainingAmount)
	require.NotNil(t, agreement.ReleaseTimeout)
	assert.Equal(t, env.now.Add(72*time.Hour), *agreement.ReleaseTimeout)

	calls := env.adapter.Calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].From)
	assert.Equal(t, env.payer, *calls[0].From)
	assert.Equal(t, env.vault, calls[0].To)
	assert.Equal(t, int64(10000), calls[0].Amount)

	stats, err := env.svc.GetStats(ctx, env.payer)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), stats.TotalVolumeAsPayer)
}

func TestDepositPayment_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createWithMilestones(t, 6000, 4000)

	_, err := env.svc.DepositPayment(ctx, env.payee, id, 10000)
	assert.ErrorIs(t, err, apperror.ErrNotAuthorized)

	_, err = env.svc.DepositPayment(ctx, env.payer, id, 9999)
	assert.ErrorIs(t, err, apperror.ErrInvalidAmount)

	_, err = env.svc.DepositPayment(ctx, env.payer, id, 0)
	assert.ErrorIs(t, err, apperror.ErrInvalidAmount)

	_, err = env.svc.DepositPayment(ctx, env.payer, id, 10000)
	require.NoError(t, err)
	_, err = env.svc.DepositPayment(ctx, env.payer, id, 10000)
	assert.ErrorIs(t, err, apperror.ErrInvalidStatus)
}

func TestDepositPayment_TransferFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createLumpSum(t)

	env.adapter.FailNext(apperror.ErrInsufficientBalance)
	_, err := env.svc.DepositPayment(ctx, env.payer, id, 10000)
	assert.ErrorIs(t, err, apperror.ErrInsufficientBalance)

	agreement, err := env.svc.GetAgreement(ctx, env.payer, id)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusPending, agreement.Status)
	assert.Equal(t, int64(0), agreement.RemainingAmount)
	assert.Empty(t, env.adapter.Calls())
}

func TestReleaseFunds_LumpSum(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createLumpSum(t)
	_, err := env.svc.DepositPayment(ctx, env.payer, id, 10000)
	require.NoError(t, err)

	agreement, err := env.svc.ReleaseFunds(ctx, env.payer, id, nil)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusReleased, agreement.Status)
	assert.Equal(t, int64(0), agreement.RemainingAmount)
	assert.Equal(t, int64(250), agreement.FeeAccrued)

	assert.Equal(t, int64(9750), env.adapter.TotalTo(env.payee))
	assert.Equal(t, int64(250), env.adapter.TotalTo(env.collector))

	stats, err := env.svc.GetStats(ctx, env.payer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.CompletedDeals)
}

func TestReleaseFunds_DoubleReleaseFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createLumpSum(t)
	_, err := env.svc.DepositPayment(ctx, env.payer, id, 10000)
	require.NoError(t, err)

	_, err = env.svc.ReleaseFunds(ctx, env.payer, id, nil)
	require.NoError(t, err)
	_, err = env.svc.ReleaseFunds(ctx, env.payer, id, nil)
	assert.ErrorIs(t, err, apperror.ErrInvalidStatus)

	// value conservation: nothing left the vault beyond the deposit
	total := env.adapter.TotalTo(env.payee) + env.adapter.TotalTo(env.collector)
	assert.Equal(t, int64(10000), total)
}

func TestReleaseFunds_Milestones(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createWithMilestones(t, 6000, 4000)
	_, err := env.svc.DepositPayment(ctx, env.payer, id, 10000)
	require.NoError(t, err)

	idx0, idx1 := 0, 1

	_, err = env.svc.ReleaseFunds(ctx, env.payer, id, &idx0)
	assert.ErrorIs(t, err, apperror.ErrMilestoneNotCompleted)

	_, err = env.svc.CompleteMilestone(ctx, env.payer, id, 0)
	require.NoError(t, err)

	agreement, err := env.svc.ReleaseFunds(ctx, env.payer, id, &idx0)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusFunded, agreement.Status)
	assert.Equal(t, int64(4000), agreement.RemainingAmount)
	assert.Equal(t, int64(150), agreement.FeeAccrued)
	assert.Equal(t, int64(5850), env.adapter.TotalTo(env.payee))

	_, err = env.svc.ReleaseFunds(ctx, env.payer, id, &idx0)
	assert.ErrorIs(t, err, apperror.ErrInvalidStatus)

	_, err = env.svc.CompleteMilestone(ctx, env.payer, id, 1)
	require.NoError(t, err)
	agreement, err = env.svc.ReleaseFunds(ctx, env.payer, id, &idx1)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusReleased, agreement.Status)
	assert.Equal(t, int64(0), agreement.RemainingAmount)
	assert.Equal(t, int64(250), agreement.FeeAccrued)
	assert.Equal(t, int64(9750), env.adapter.TotalTo(env.payee))
	assert.Equal(t, int64(250), env.adapter.TotalTo(env.collector))
}

func TestReleaseFunds_IndexValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	milestoneID := env.createWithMilestones(t, 5000)
	_, err := env.svc.DepositPayment(ctx, env.payer, milestoneID, 5000)
	require.NoError(t, err)

	_, err = env.svc.ReleaseFunds(ctx, env.payer, milestoneID, nil)
	assert.ErrorIs(t, err, apperror.ErrInvalidMilestoneIndex)

	badIdx := 5
	_, err = env.svc.ReleaseFunds(ctx, env.payer, milestoneID, &badIdx)
	assert.ErrorIs(t, err, apperror.ErrInvalidMilestoneIndex)

	lumpID := env.createLumpSum(t)
	_, err = env.svc.DepositPayment(ctx, env.payer, lumpID, 5000)
	require.NoError(t, err)
	zero := 0
	_, err = env.svc.ReleaseFunds(ctx, env.payer, lumpID, &zero)
	assert.ErrorIs(t, err, apperror.ErrInvalidMilestoneIndex)
}

func TestReleaseFunds_NotAuthorized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createLumpSum(t)
	_, err := env.svc.DepositPayment(ctx, env.payer, id, 10000)
	require.NoError(t, err)

	_, err = env.svc.ReleaseFunds(ctx, env.payee, id, nil)
	assert.ErrorIs(t, err, apperror.ErrNotAuthorized)
	_, err = env.svc.ReleaseFunds(ctx, uuid.New(), id, nil)
	assert.ErrorIs(t, err, apperror.ErrNotAuthorized)
}

func TestReleaseFunds_TransferFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createLumpSum(t)
	_, err := env.svc.DepositPayment(ctx, env.payer, id, 10000)
	require.NoError(t, err)

	env.adapter.FailNext(errors.New("rpc timeout"))
	_, err = env.svc.ReleaseFunds(ctx, env.payer, id, nil)
	require.Error(t, err)
	assert.Equal(t, apperror.ErrCodeTransferFailed, apperror.CodeOf(err))

	agreement, err := env.svc.GetAgreement(ctx, env.payer, id)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusFunded, agreement.Status)
	assert.Equal(t, int64(10000), agreement.RemainingAmount)
	assert.Equal(t, int64(0), agreement.FeeAccrued)
}

func TestCompleteMilestone_Rules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createWithMilestones(t, 6000, 4000)

	_, err := env.svc.CompleteMilestone(ctx, env.payer, id, 0)
	assert.ErrorIs(t, err, apperror.ErrInvalidStatus)

	_, err = env.svc.DepositPayment(ctx, env.payer, id, 10000)
	require.NoError(t, err)

	_, err = env.svc.CompleteMilestone(ctx, env.payee, id, 0)
	assert.ErrorIs(t, err, apperror.ErrNotAuthorized)

	_, err = env.svc.CompleteMilestone(ctx, env.payer, id, 7)
	assert.ErrorIs(t, err, apperror.ErrInvalidMilestoneIndex)

	_, err = env.svc.CompleteMilestone(ctx, env.payer, id, 0)
	require.NoError(t, err)
	_, err = env.svc.CompleteMilestone(ctx, env.payer, id, 0)
	assert.ErrorIs(t, err, apperror.ErrInvalidStatus)
}

func TestDispute_RaiseAndResolveSplit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createLumpSum(t)
	_, err := env.svc.DepositPayment(ctx, env.payer, id, 10000)
	require.NoError(t, err)

	agreement, err := env.svc.RaiseDispute(ctx, env.payee, id)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusDisputed, agreement.Status)

	// a dispute freezes releases and a second dispute
	_, err = env.svc.ReleaseFunds(ctx, env.payer, id, nil)
	assert.ErrorIs(t, err, apperror.ErrInvalidStatus)
	_, err = env.svc.RaiseDispute(ctx, env.payer, id)
	assert.ErrorIs(t, err, apperror.ErrInvalidStatus)

	// 30% back to the payer, fee on the full remainder withheld from the payee
	agreement, err = env.svc.ResolveDispute(ctx, env.arbitrator, id, 3000)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusReleased, agreement.Status)
	assert.Equal(t, int64(0), agreement.RemainingAmount)
	assert.Equal(t, int64(250), agreement.FeeAccrued)

	assert.Equal(t, int64(3000), env.adapter.TotalTo(env.payer))
	assert.Equal(t, int64(6750), env.adapter.TotalTo(env.payee))
	assert.Equal(t, int64(250), env.adapter.TotalTo(env.collector))

	stats, err := env.svc.GetStats(ctx, env.payee)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DisputedDeals)
}

func TestDispute_FullRefundWaivesFee(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createLumpSum(t)
	_, err := env.svc.DepositPayment(ctx, env.payer, id, 10000)
	require.NoError(t, err)
	_, err = env.svc.RaiseDispute(ctx, env.payer, id)
	require.NoError(t, err)

	agreement, err := env.svc.ResolveDispute(ctx, env.arbitrator, id, 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), env.adapter.TotalTo(env.payer))
	assert.Equal(t, int64(0), env.adapter.TotalTo(env.payee))
	assert.Equal(t, int64(0), env.adapter.TotalTo(env.collector))
	assert.Equal(t, int64(0), agreement.FeeAccrued)
}

func TestDispute_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createLumpSum(t)

	_, err := env.svc.RaiseDispute(ctx, env.payer, id)
	assert.ErrorIs(t, err, apperror.ErrInvalidStatus)

	_, err = env.svc.DepositPayment(ctx, env.payer, id, 10000)
	require.NoError(t, err)

	_, err = env.svc.RaiseDispute(ctx, uuid.New(), id)
	assert.ErrorIs(t, err, apperror.ErrNotAuthorized)

	_, err = env.svc.ResolveDispute(ctx, env.arbitrator, id, 5000)
	assert.ErrorIs(t, err, apperror.ErrInvalidStatus)

	_, err = env.svc.RaiseDispute(ctx, env.payer, id)
	require.NoError(t, err)

	_, err = env.svc.ResolveDispute(ctx, env.payer, id, 5000)
	assert.ErrorIs(t, err, apperror.ErrNotAuthorized)

	_, err = env.svc.ResolveDispute(ctx, env.arbitrator, id, 10001)
	assert.ErrorIs(t, err, apperror.ErrInvalidAmount)
	_, err = env.svc.ResolveDispute(ctx, env.arbitrator, id, -1)
	assert.ErrorIs(t, err, apperror.ErrInvalidAmount)
}

func TestCancelAgreement_Pending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createLumpSum(t)

	agreement, err := env.svc.CancelAgreement(ctx, env.payee, id)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusCancelled, agreement.Status)
	assert.Empty(t, env.adapter.Calls())

	_, err = env.svc.CancelAgreement(ctx, env.payer, id)
	assert.ErrorIs(t, err, apperror.ErrInvalidStatus)
}

func TestCancelAgreement_FundedRefundsWithoutFee(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createLumpSum(t)
	_, err := env.svc.DepositPayment(ctx, env.payer, id, 10000)
	require.NoError(t, err)

	_, err = env.svc.CancelAgreement(ctx, env.payee, id)
	assert.ErrorIs(t, err, apperror.ErrNotAuthorized)

	agreement, err := env.svc.CancelAgreement(ctx, env.payer, id)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusRefunded, agreement.Status)
	assert.Equal(t, int64(0), agreement.RemainingAmount)
	assert.Equal(t, int64(0), agreement.FeeAccrued)
	assert.Equal(t, int64(10000), env.adapter.TotalTo(env.payer))
	assert.Equal(t, int64(0), env.adapter.TotalTo(env.collector))
}

func TestAutoRelease_TimeoutGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createLumpSum(t)
	_, err := env.svc.DepositPayment(ctx, env.payer, id, 10000)
	require.NoError(t, err)

	_, err = env.svc.AutoRelease(ctx, uuid.New(), id)
	assert.ErrorIs(t, err, apperror.ErrTimeoutNotReached)

	eligible, _, err := env.svc.CanAutoRelease(ctx, id)
	require.NoError(t, err)
	assert.False(t, eligible)

	env.now = env.now.Add(72*time.Hour + time.Minute)

	eligible, _, err = env.svc.CanAutoRelease(ctx, id)
	require.NoError(t, err)
	assert.True(t, eligible)

	// any identity may trigger it once the deadline passed
	agreement, err := env.svc.AutoRelease(ctx, uuid.New(), id)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusReleased, agreement.Status)
	assert.Equal(t, int64(9750), env.adapter.TotalTo(env.payee))
	assert.Equal(t, int64(250), env.adapter.TotalTo(env.collector))

	_, err = env.svc.AutoRelease(ctx, uuid.New(), id)
	assert.ErrorIs(t, err, apperror.ErrInvalidStatus)
}

func TestAutoRelease_MarksMilestonesReleased(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createWithMilestones(t, 6000, 4000)
	_, err := env.svc.DepositPayment(ctx, env.payer, id, 10000)
	require.NoError(t, err)

	env.now = env.now.Add(100 * time.Hour)
	agreement, err := env.svc.AutoRelease(ctx, env.payee, id)
	require.NoError(t, err)
	for _, m := range agreement.Milestones {
		assert.True(t, m.Released)
	}
}

func TestGetAgreement_ReaderGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createLumpSum(t)

	_, err := env.svc.GetAgreement(ctx, uuid.New(), id)
	assert.ErrorIs(t, err, apperror.ErrNotAuthorized)

	_, err = env.svc.GetAgreement(ctx, env.arbitrator, id)
	assert.NoError(t, err)

	_, err = env.svc.GetAgreement(ctx, env.payer, uuid.New())
	assert.ErrorIs(t, err, apperror.ErrInvalidAgreement)
}

func TestListMyAgreements(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.createLumpSum(t)
	env.now = env.now.Add(time.Second)
	second := env.createLumpSum(t)

	list, err := env.svc.ListMyAgreements(ctx, env.payer, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)

	list, err = env.svc.ListMyAgreements(ctx, uuid.New(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEventOrdering_FullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createLumpSum(t)
	_, err := env.svc.DepositPayment(ctx, env.payer, id, 10000)
	require.NoError(t, err)
	_, err = env.svc.ReleaseFunds(ctx, env.payer, id, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		models.EventAgreementCreated,
		models.EventPaymentDeposited,
		models.EventFundsReleased,
	}, env.sink.types())
}

func TestConcurrentReleases_OnlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createLumpSum(t)
	_, err := env.svc.DepositPayment(ctx, env.payer, id, 10000)
	require.NoError(t, err)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = env.svc.ReleaseFunds(ctx, env.payer, id, nil)
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, apperror.ErrInvalidStatus)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(10000), env.adapter.TotalTo(env.payee)+env.adapter.TotalTo(env.collector))
}
