// Package account models the Account entity from the data model (§3): the
// multi-tenant isolation boundary that anchors an OU chain and owns a set of
// principals.
package account

import (
	"time"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// Account is HRN, parent OU HRN, set of child principals (§3).
type Account struct {
	HRN         hrn.HRN
	ParentOU    hrn.HRN // zero value means this account hangs directly off the org root
	Principals  map[hrn.HRN]bool
	Status      Status
	CreatedAt   time.Time
	SuspendedAt *time.Time
	DeletedAt   *time.Time
}

// IsActive reports whether the account accepts new authorization requests.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// HasOU reports whether the account is attached to an OU. An orphan account
// (no OU) is valid per §4.5 and resolves to a root-only OU chain with a
// warning diagnostic, not an error.
func (a *Account) HasOU() bool {
	return !a.ParentOU.IsZero()
}

// CreateRequest is the administrative input for provisioning a new account.
type CreateRequest struct {
	HRN      hrn.HRN
	ParentOU hrn.HRN
}
