package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentpay/escrow-engine/internal/http/handlers/common"
	"github.com/agentpay/escrow-engine/internal/models"
	"github.com/agentpay/escrow-engine/internal/pkg/apperror"
	"github.com/agentpay/escrow-engine/internal/transfer"
)

// WalletHandler exposes the internal ledger balances. Only mounted when the
// engine settles on the internal ledger adapter; with on-chain settlement
// balances live outside the engine.
type WalletHandler struct {
	ledger *transfer.LedgerAdapter
}

func NewWalletHandler(ledger *transfer.LedgerAdapter) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// GetBalance handles GET /api/wallet/balance?asset=native.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	caller, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	asset := c.DefaultQuery("asset", models.AssetNative)
	available, err := h.ledger.Balance(c.Request.Context(), caller, asset)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"asset":     asset,
		"available": available,
	})
}

type topUpRequest struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount" binding:"required"`
}

// TopUp handles POST /api/wallet/deposit. It credits the caller's ledger
// balance, standing in for the external on-ramp.
func (h *WalletHandler) TopUp(c *gin.Context) {
	caller, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	var req topUpRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	if req.Amount <= 0 {
		_ = c.Error(apperror.ErrInvalidAmount)
		return
	}
	if req.Asset == "" {
		req.Asset = models.AssetNative
	}

	if err := h.ledger.Credit(c.Request.Context(), caller, req.Asset, req.Amount); err != nil {
		_ = c.Error(err)
		return
	}

	available, err := h.ledger.Balance(c.Request.Context(), caller, req.Asset)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"asset":     req.Asset,
		"available": available,
	})
}
