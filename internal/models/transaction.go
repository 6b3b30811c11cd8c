package models

import (
	"encoding/json"
	"time"
)

// Payment provider names
const (
	ProviderAtlantik = "atlantik"
	ProviderPakasir  = "pakasir"
)

// Providers lists every provider the gateway knows how to talk to.
var Providers = []string{ProviderAtlantik, ProviderPakasir}

// DepositStatus is the canonical payment status stored in the ledger.
type DepositStatus string

const (
	DepositPending DepositStatus = "pending"
	DepositSuccess DepositStatus = "success"
	DepositFailed  DepositStatus = "failed"
	DepositExpired DepositStatus = "expired"
)

// Terminal reports whether no further transition is allowed out of s.
func (s DepositStatus) Terminal() bool {
	return s == DepositSuccess || s == DepositFailed || s == DepositExpired
}

func (s DepositStatus) Valid() bool {
	return s == DepositPending || s.Terminal()
}

type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderSuccess OrderStatus = "success"
	OrderFailed  OrderStatus = "failed"
)

type ProductType string

const (
	ProductTopup  ProductType = "topup"
	ProductScript ProductType = "script"
	ProductPanel  ProductType = "panel"
)

func (t ProductType) Valid() bool {
	return t == ProductTopup || t == ProductScript || t == ProductPanel
}

// Transaction is a ledger entry. Rows are never deleted; only the deposit
// status and settled amount move, and only out of pending.
type Transaction struct {
	InternalID        string        `json:"internal_id"`
	ProviderDepositID *string       `json:"provider_deposit_id"`
	DepositStatus     DepositStatus `json:"deposit_status"`
	DepositAmount     int64         `json:"deposit_amount"`
	SettledAmount     *int64        `json:"settled_amount"`
	OrderID           *string       `json:"order_id"`
	OrderStatus       OrderStatus   `json:"order_status"`
	ProductCode       string        `json:"product_code"`
	ProductType       ProductType   `json:"product_type"`
	ProductPrice      int64         `json:"product_price"`
	Target            *string       `json:"target"`
	Provider          string        `json:"provider"`
	Profit            int64         `json:"profit"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// TransactionEvent is the audit row written alongside each status transition.
// PublishedAt stays nil until the matching deposit.* event reached the broker.
type TransactionEvent struct {
	ID          int64
	InternalID  string
	FromStatus  DepositStatus
	ToStatus    DepositStatus
	Payload     json.RawMessage
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// TransactionFilter narrows ledger listings. Zero values mean "any".
type TransactionFilter struct {
	Status   DepositStatus
	Provider string
	Limit    int
	Offset   int
}
