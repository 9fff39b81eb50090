package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpay/escrow-engine/internal/http/middleware"
	"github.com/agentpay/escrow-engine/internal/models"
	"github.com/agentpay/escrow-engine/internal/repository"
	"github.com/agentpay/escrow-engine/internal/service"
	"github.com/agentpay/escrow-engine/internal/transfer"
)

type handlerEnv struct {
	router  *gin.Engine
	adapter *transfer.FakeAdapter
	payer   uuid.UUID
	payee   uuid.UUID
}

// identityAs injects the caller the way the auth middleware would after a
// valid token.
func identityAs(id uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id != uuid.Nil {
			c.Set(middleware.ContextUserIDKey, id)
		}
		c.Next()
	}
}

func newHandlerEnv(t *testing.T, caller uuid.UUID) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewMemoryAgreementStore()
	adapter := transfer.NewFakeAdapter()
	gate := service.NewAuthGate(repository.NewStaticRoleRegistry(nil, nil))
	stats := repository.NewMemoryStatsAggregator()
	feeCfg, err := service.NewFeeConfig(250, uuid.New())
	require.NoError(t, err)

	escrow := service.NewEscrowService(store, adapter, gate, stats, feeCfg, uuid.New(), 72*time.Hour)
	handler := NewEscrowHandler(escrow)

	r := gin.New()
	r.Use(middleware.ErrorHandler())
	r.Use(identityAs(caller))
	r.POST("/agreements", handler.Create)
	r.GET("/agreements/my", handler.ListMy)
	r.GET("/agreements/:id", handler.Get)
	r.POST("/agreements/:id/deposit", handler.Deposit)
	r.POST("/agreements/:id/release", handler.Release)
	r.POST("/agreements/:id/cancel", handler.Cancel)

	return &handlerEnv{router: r, adapter: adapter, payer: caller, payee: uuid.New()}
}

func (e *handlerEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestEscrowHandler_Lifecycle(t *testing.T) {
	env := newHandlerEnv(t, uuid.New())
	agreementID := uuid.New()

	w := env.do(t, http.MethodPost, "/agreements", gin.H{
		"id":       agreementID,
		"payee_id": env.payee,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.Agreement
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, models.AgreementStatusPending, created.Status)
	assert.Equal(t, env.payer, created.Payer)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/agreements/%s/deposit", agreementID), gin.H{"amount": 10000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var funded models.Agreement
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &funded))
	assert.Equal(t, models.AgreementStatusFunded, funded.Status)
	assert.Equal(t, int64(10000), funded.RemainingAmount)
	require.NotNil(t, funded.ReleaseTimeout)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/agreements/%s/release", agreementID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var released models.Agreement
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &released))
	assert.Equal(t, models.AgreementStatusReleased, released.Status)
	assert.Equal(t, int64(250), released.FeeAccrued)
	assert.Equal(t, int64(9750), env.adapter.TotalTo(env.payee))
}

func TestEscrowHandler_ErrorMapping(t *testing.T) {
	env := newHandlerEnv(t, uuid.New())
	agreementID := uuid.New()

	// unknown agreement maps to 404
	w := env.do(t, http.MethodGet, "/agreements/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/agreements", gin.H{
		"id":       agreementID,
		"payee_id": env.payee,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// releasing before a deposit conflicts with the current status
	w = env.do(t, http.MethodPost, fmt.Sprintf("/agreements/%s/release", agreementID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INVALID_STATUS", body["code"])

	// zero deposit fails request validation before the service runs
	w = env.do(t, http.MethodPost, fmt.Sprintf("/agreements/%s/deposit", agreementID), gin.H{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEscrowHandler_MissingIdentity(t *testing.T) {
	env := newHandlerEnv(t, uuid.Nil)

	w := env.do(t, http.MethodPost, "/agreements", gin.H{
		"id":       uuid.New(),
		"payee_id": uuid.New(),
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/agreements/my", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEscrowHandler_InvalidIDParam(t *testing.T) {
	env := newHandlerEnv(t, uuid.New())

	w := env.do(t, http.MethodGet, "/agreements/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEscrowHandler_CancelPending(t *testing.T) {
	env := newHandlerEnv(t, uuid.New())
	agreementID := uuid.New()

	w := env.do(t, http.MethodPost, "/agreements", gin.H{
		"id":       agreementID,
		"payee_id": env.payee,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/agreements/%s/cancel", agreementID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var cancelled models.Agreement
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cancelled))
	assert.Equal(t, models.AgreementStatusCancelled, cancelled.Status)
	assert.Empty(t, env.adapter.Calls())
}
