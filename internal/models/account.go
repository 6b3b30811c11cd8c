package models

import (
	"time"
)

type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
)

// SpecSnapshot is copied from the catalog at creation time.
type SpecSnapshot struct {
	RAM  int `json:"ram"`
	CPU  int `json:"cpu"`
	Disk int `json:"disk"`
}

// ProvisionedAccount binds a panel identity to its server. It only exists
// once both remote calls succeeded.
type ProvisionedAccount struct {
	ID               string        `json:"id"`
	Identity         string        `json:"identity"`
	Email            string        `json:"email"`
	CredentialHash   string        `json:"-"`
	RemoteIdentityID int64         `json:"remote_identity_id"`
	ResourceHandle   int64         `json:"resource_handle"`
	Spec             SpecSnapshot  `json:"spec_snapshot"`
	CatalogRef       string        `json:"catalog_ref"`
	Status           AccountStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
}

// AttemptState tracks a provisioning attempt across the two remote calls.
type AttemptState string

const (
	AttemptStart           AttemptState = "start"
	AttemptIdentityCreated AttemptState = "identity_created"
	AttemptResourceCreated AttemptState = "resource_created"
	AttemptCommitted       AttemptState = "committed"
	AttemptFailedClean     AttemptState = "failed_clean"
	AttemptFailedOrphan    AttemptState = "failed_orphan"
	AttemptCompensated     AttemptState = "compensated"
)

// InFlight reports whether the attempt still holds the per-owner slot.
func (s AttemptState) InFlight() bool {
	return s == AttemptStart || s == AttemptIdentityCreated || s == AttemptResourceCreated
}

type ProvisionAttempt struct {
	ID               string
	Owner            string
	Identity         string
	CatalogRef       string
	RemoteIdentityID *int64
	ResourceHandle   *int64
	State            AttemptState
	LastError        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
