package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/agentpay/escrow-engine/internal/http/handlers/common"
	"github.com/agentpay/escrow-engine/internal/pkg/apperror"
	"github.com/agentpay/escrow-engine/internal/service"
)

// AdminHandler is the administrative configuration surface. Callers must
// hold the admin role and present the admin secret; the stored value is a
// bcrypt hash so the secret never sits in config in the clear.
type AdminHandler struct {
	gate            *service.AuthGate
	feeCfg          *service.FeeConfig
	tokens          *service.TokenManager
	adminSecretHash []byte
}

func NewAdminHandler(gate *service.AuthGate, feeCfg *service.FeeConfig, tokens *service.TokenManager, adminSecretHash string) *AdminHandler {
	return &AdminHandler{
		gate:            gate,
		feeCfg:          feeCfg,
		tokens:          tokens,
		adminSecretHash: []byte(adminSecretHash),
	}
}

func (h *AdminHandler) authorize(c *gin.Context) (uuid.UUID, bool) {
	caller, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return uuid.Nil, false
	}

	if err := h.gate.Require(c.Request.Context(), caller, nil, service.RoleAdmin); err != nil {
		_ = c.Error(err)
		return uuid.Nil, false
	}

	if len(h.adminSecretHash) > 0 {
		secret := c.GetHeader("X-Admin-Secret")
		if bcrypt.CompareHashAndPassword(h.adminSecretHash, []byte(secret)) != nil {
			_ = c.Error(apperror.ErrNotAuthorized)
			return uuid.Nil, false
		}
	}
	return caller, true
}

// GetConfig handles GET /api/admin/config.
func (h *AdminHandler) GetConfig(c *gin.Context) {
	if _, ok := h.authorize(c); !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"fee_bps":       h.feeCfg.CurrentBps(),
		"fee_collector": h.feeCfg.Collector(),
	})
}

type setFeeRequest struct {
	FeeBps int64 `json:"fee_bps"`
}

// SetFee handles PUT /api/admin/config/fee. The new rate applies to future
// releases only.
func (h *AdminHandler) SetFee(c *gin.Context) {
	if _, ok := h.authorize(c); !ok {
		return
	}

	var req setFeeRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.feeCfg.SetBps(req.FeeBps); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"fee_bps": h.feeCfg.CurrentBps()})
}

type issueTokenRequest struct {
	Identity uuid.UUID `json:"identity" binding:"required"`
}

// IssueToken handles POST /api/admin/tokens. Mints a bearer token for an
// identity; meant for local setups where no external identity provider runs.
func (h *AdminHandler) IssueToken(c *gin.Context) {
	if _, ok := h.authorize(c); !ok {
		return
	}

	var req issueTokenRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	token, err := h.tokens.Issue(req.Identity)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"access_token": token})
}
