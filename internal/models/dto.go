package models

import "encoding/json"

// ==================== Payment ====================

// CreatePaymentRequest is the body of POST /api/create-payment
type CreatePaymentRequest struct {
	Amount       int64       `json:"amount" binding:"required"`
	Provider     string      `json:"provider,omitempty"` // 为空时使用默认 provider
	ProductCode  string      `json:"product_code,omitempty"`
	ProductType  ProductType `json:"product_type,omitempty"`
	ProductPrice int64       `json:"product_price,omitempty"`
	OrderID      *string     `json:"order_id,omitempty"`
	Target       *string     `json:"target,omitempty"`
}

type CreatePaymentResponse struct {
	Success             bool            `json:"success"`
	InternalID          string          `json:"internal_id"`
	ProviderDepositID   string          `json:"provider_deposit_id"`
	Provider            string          `json:"provider"`
	PaymentInstructions json.RawMessage `json:"payment_instructions"`
}

// CheckPaymentResponse is what the reconciliation endpoint returns.
type CheckPaymentResponse struct {
	Success       bool          `json:"success"`
	Status        DepositStatus `json:"status"`
	SettledAmount *int64        `json:"settled_amount"`
	Transaction   *Transaction  `json:"transaction"`
}

type ProviderInfo struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

type PaymentProvidersResponse struct {
	Success         bool           `json:"success"`
	Providers       []ProviderInfo `json:"providers"`
	DefaultProvider string         `json:"default_provider"`
}

// ==================== Provisioning ====================

// ProvisionRequest is the body of POST /api/internal/panel/create
type ProvisionRequest struct {
	PanelProductID string `json:"panel_product_id" binding:"required"`
	Username       string `json:"username" binding:"required"`
}

// ResourceLimits are the limits applied to the panel server.
type ResourceLimits struct {
	Memory int `json:"memory"`
	Swap   int `json:"swap"`
	Disk   int `json:"disk"`
	IO     int `json:"io"`
	CPU    int `json:"cpu"`
}

type FeatureLimits struct {
	Databases   int `json:"databases"`
	Backups     int `json:"backups"`
	Allocations int `json:"allocations"`
}

// ProvisionResult carries the credential. It is returned once and never stored in clear.
type ProvisionResult struct {
	Domain     string         `json:"domain"`
	Identity   string         `json:"identity"`
	Email      string         `json:"email"`
	Credential string         `json:"credential"`
	ResourceID int64          `json:"resource_id"`
	Limits     ResourceLimits `json:"limits"`
	Spec       SpecSnapshot   `json:"spec_snapshot"`
}

type ProvisionResponse struct {
	Success bool             `json:"success"`
	Data    *ProvisionResult `json:"data"`
}

// ==================== Admin projections ====================

type Page struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}
