package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agentpay/escrow-engine/internal/http/handlers/common"
	"github.com/agentpay/escrow-engine/internal/models"
)

// TransactionLister reads the value-movement journal.
type TransactionLister interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error)
}

// TransactionHandler serves the caller's journal entries.
type TransactionHandler struct {
	journal TransactionLister
}

func NewTransactionHandler(journal TransactionLister) *TransactionHandler {
	return &TransactionHandler{journal: journal}
}

// ListMy handles GET /api/transactions.
func (h *TransactionHandler) ListMy(c *gin.Context) {
	caller, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	limit, offset := common.GetPagination(c)
	transactions, err := h.journal.ListByUser(c.Request.Context(), caller, limit, offset)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}
