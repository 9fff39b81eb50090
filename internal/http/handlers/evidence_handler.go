package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentpay/escrow-engine/internal/http/handlers/common"
	"github.com/agentpay/escrow-engine/internal/service"
)

// EvidenceHandler serves dispute evidence uploads and listing.
type EvidenceHandler struct {
	evidence *service.EvidenceService
}

func NewEvidenceHandler(evidence *service.EvidenceService) *EvidenceHandler {
	return &EvidenceHandler{evidence: evidence}
}

// Upload handles POST /api/agreements/:id/dispute/evidence (multipart).
func (h *EvidenceHandler) Upload(c *gin.Context) {
	caller, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		common.RespondBadRequest(c, "file field is required")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		common.RespondBadRequest(c, "cannot read uploaded file")
		return
	}
	defer file.Close()

	evidence, err := h.evidence.Upload(c.Request.Context(), caller, id, fileHeader.Filename, file)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, evidence)
}

// List handles GET /api/agreements/:id/dispute/evidence.
func (h *EvidenceHandler) List(c *gin.Context) {
	caller, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	items, err := h.evidence.List(c.Request.Context(), caller, id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"evidence": items})
}
