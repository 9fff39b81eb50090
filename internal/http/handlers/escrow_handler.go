package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agentpay/escrow-engine/internal/http/handlers/common"
	"github.com/agentpay/escrow-engine/internal/service"
)

// EscrowHandler exposes the agreement lifecycle over HTTP.
type EscrowHandler struct {
	escrow *service.EscrowService
}

func NewEscrowHandler(escrow *service.EscrowService) *EscrowHandler {
	return &EscrowHandler{escrow: escrow}
}

type createAgreementRequest struct {
	ID          uuid.UUID                `json:"id" binding:"required"`
	Payee       uuid.UUID                `json:"payee_id" binding:"required"`
	Asset       string                   `json:"asset"`
	Description string                   `json:"description"`
	Milestones  []service.MilestoneInput `json:"milestones"`
}

// Create handles POST /api/agreements.
func (h *EscrowHandler) Create(c *gin.Context) {
	caller, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	var req createAgreementRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	agreement, err := h.escrow.CreateAgreement(c.Request.Context(), caller, service.CreateAgreementParams{
		ID:          req.ID,
		Payee:       req.Payee,
		Asset:       req.Asset,
		Description: req.Description,
		Milestones:  req.Milestones,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, agreement)
}

// ListMy handles GET /api/agreements/my.
func (h *EscrowHandler) ListMy(c *gin.Context) {
	caller, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	limit, offset := common.GetPagination(c)
	agreements, err := h.escrow.ListMyAgreements(c.Request.Context(), caller, limit, offset)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"agreements": agreements})
}

// Get handles GET /api/agreements/:id.
func (h *EscrowHandler) Get(c *gin.Context) {
	caller, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	agreement, err := h.escrow.GetAgreement(c.Request.Context(), caller, id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, agreement)
}

// GetMilestones handles GET /api/agreements/:id/milestones.
func (h *EscrowHandler) GetMilestones(c *gin.Context) {
	caller, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	milestones, err := h.escrow.GetMilestones(c.Request.Context(), caller, id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"milestones": milestones})
}

// CanAutoRelease handles GET /api/agreements/:id/can-auto-release.
func (h *EscrowHandler) CanAutoRelease(c *gin.Context) {
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	eligible, deadline, err := h.escrow.CanAutoRelease(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"eligible":         eligible,
		"release_deadline": deadline,
	})
}

type depositRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// Deposit handles POST /api/agreements/:id/deposit.
func (h *EscrowHandler) Deposit(c *gin.Context) {
	caller, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	var req depositRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	agreement, err := h.escrow.DepositPayment(c.Request.Context(), caller, id, req.Amount)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, agreement)
}

// CompleteMilestone handles POST /api/agreements/:id/milestones/:index/complete.
func (h *EscrowHandler) CompleteMilestone(c *gin.Context) {
	caller, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		common.RespondBadRequest(c, "milestone index must be a non-negative integer")
		return
	}

	agreement, err := h.escrow.CompleteMilestone(c.Request.Context(), caller, id, index)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, agreement)
}

type releaseRequest struct {
	MilestoneIndex *int `json:"milestone_index"`
}

// Release handles POST /api/agreements/:id/release.
func (h *EscrowHandler) Release(c *gin.Context) {
	caller, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	var req releaseRequest
	if c.Request.ContentLength > 0 {
		if err := common.BindAndValidate(c, &req); err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}
	}

	agreement, err := h.escrow.ReleaseFunds(c.Request.Context(), caller, id, req.MilestoneIndex)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, agreement)
}

// Dispute handles POST /api/agreements/:id/dispute.
func (h *EscrowHandler) Dispute(c *gin.Context) {
	caller, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	agreement, err := h.escrow.RaiseDispute(c.Request.Context(), caller, id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, agreement)
}

type resolveRequest struct {
	RefundBps int64 `json:"refund_bps"`
}

// Resolve handles POST /api/agreements/:id/resolve.
func (h *EscrowHandler) Resolve(c *gin.Context) {
	caller, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	var req resolveRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	agreement, err := h.escrow.ResolveDispute(c.Request.Context(), caller, id, req.RefundBps)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, agreement)
}

// Cancel handles POST /api/agreements/:id/cancel.
func (h *EscrowHandler) Cancel(c *gin.Context) {
	caller, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	agreement, err := h.escrow.CancelAgreement(c.Request.Context(), caller, id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, agreement)
}

// AutoRelease handles POST /api/agreements/:id/auto-release.
func (h *EscrowHandler) AutoRelease(c *gin.Context) {
	caller, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	agreement, err := h.escrow.AutoRelease(c.Request.Context(), caller, id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, agreement)
}

func (h *EscrowHandler) callerAndID(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	caller, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return uuid.Nil, uuid.Nil, false
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	return caller, id, true
}
