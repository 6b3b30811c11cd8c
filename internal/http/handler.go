package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wenwu/saas-platform/storefront-service/internal/apperr"
	"github.com/wenwu/saas-platform/storefront-service/internal/models"
)

// PaymentAPI is implemented by service.PaymentService.
type PaymentAPI interface {
	CreateDeposit(ctx context.Context, req *models.CreatePaymentRequest) (*models.CreatePaymentResponse, error)
	Reconcile(ctx context.Context, internalID string) (*models.CheckPaymentResponse, error)
	GetTransaction(ctx context.Context, internalID string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error)
	Providers() *models.PaymentProvidersResponse
}

// ProvisioningAPI is implemented by service.ProvisionService.
type ProvisioningAPI interface {
	Provision(ctx context.Context, req *models.ProvisionRequest) (*models.ProvisionResult, error)
	ListAccounts(ctx context.Context, page models.Page) ([]*models.ProvisionedAccount, error)
}

type Handler struct {
	payments     PaymentAPI
	provisioning ProvisioningAPI
	logger       *slog.Logger
}

func NewHandler(payments PaymentAPI, provisioning ProvisioningAPI, logger *slog.Logger) *Handler {
	return &Handler{
		payments:     payments,
		provisioning: provisioning,
		logger:       logger.With("component", "http"),
	}
}

// ==================== Payment ====================

// CreatePayment POST /api/create-payment
func (h *Handler) CreatePayment(c *gin.Context) {
	var req models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	resp, err := h.payments.CreateDeposit(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CheckPayment GET /api/check-payment?trxId=
func (h *Handler) CheckPayment(c *gin.Context) {
	trxID := c.Query("trxId")
	if trxID == "" {
		h.writeError(c, apperr.Validation("trxId is required"))
		return
	}

	resp, err := h.payments.Reconcile(c.Request.Context(), trxID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetReceipt GET /api/receipt/:trxId returns the stored entry without asking the provider.
func (h *Handler) GetReceipt(c *gin.Context) {
	txn, err := h.payments.GetTransaction(c.Request.Context(), c.Param("trxId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": txn})
}

// ListPaymentProviders GET /api/payment-providers
func (h *Handler) ListPaymentProviders(c *gin.Context) {
	c.JSON(http.StatusOK, h.payments.Providers())
}

// ==================== Provisioning ====================

// CreatePanel POST /api/internal/panel/create
func (h *Handler) CreatePanel(c *gin.Context) {
	var req models.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	result, err := h.provisioning.Provision(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.ProvisionResponse{Success: true, Data: result})
}

// ==================== Admin ====================

type transactionQuery struct {
	Status   models.DepositStatus `form:"status"`
	Provider string               `form:"provider"`
	Limit    int                  `form:"limit"`
	Offset   int                  `form:"offset"`
}

// ListTransactions GET /api/admin/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	var q transactionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.writeError(c, apperr.Validation("invalid query: %v", err))
		return
	}

	list, err := h.payments.ListTransactions(c.Request.Context(), models.TransactionFilter{
		Status:   q.Status,
		Provider: q.Provider,
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": list})
}

// ListAccounts GET /api/admin/accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	var page models.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		h.writeError(c, apperr.Validation("invalid query: %v", err))
		return
	}

	list, err := h.provisioning.ListAccounts(c.Request.Context(), page)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": list})
}

// ==================== Errors ====================

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindDuplicateIdentity:
		return http.StatusConflict
	case apperr.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	msg := apperr.Message(err)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		msg = "internal error"
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "kind", kind, "error", err)
	}
	abortWithError(c, status, string(kind), msg)
}

func abortWithError(c *gin.Context, status int, kind, msg string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Success: false,
		Error:   models.ErrorBody{Kind: kind, Message: msg},
	})
}
