// Package account — cross-account isolation proofs.
//
// IsolationChecker verifies that cached and stored data never leaks across
// an account boundary, and produces an IsolationReceipt as evidence. This
// backs the supplemented tenant-isolation sweep: a background consistency
// check, not part of the request-path decision algorithm.
package account

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// IsolationReceipt proves no cross-account leakage occurred for one check.
type IsolationReceipt struct {
	ReceiptID    string    `json:"receipt_id"`
	AccountID    string    `json:"account_id"`
	OperationID  string    `json:"operation_id"`
	ChecksPassed int       `json:"checks_passed"`
	ChecksFailed int       `json:"checks_failed"`
	Violations   []string  `json:"violations,omitempty"`
	Isolated     bool      `json:"isolated"`
	ContentHash  string    `json:"content_hash"`
	Timestamp    time.Time `json:"timestamp"`
}

// IsolationChecker performs cross-account boundary checks over a registry
// of which resource IDs (cache entries, bundle memo keys, stored policies)
// belong to which account.
type IsolationChecker struct {
	mu          sync.RWMutex
	accountData map[string]map[string]bool // accountID → set of resource IDs
	seq         int64
	clock       func() time.Time
}

// NewIsolationChecker creates a new checker.
func NewIsolationChecker() *IsolationChecker {
	return &IsolationChecker{
		accountData: make(map[string]map[string]bool),
		clock:       time.Now,
	}
}

// WithClock overrides clock for testing.
func (c *IsolationChecker) WithClock(clock func() time.Time) *IsolationChecker {
	c.clock = clock
	return c
}

// RegisterResource associates a resource with an account.
func (c *IsolationChecker) RegisterResource(accountID, resourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accountData[accountID] == nil {
		c.accountData[accountID] = make(map[string]bool)
	}
	c.accountData[accountID][resourceID] = true
}

// CheckAccess verifies an account can only access its own resources.
func (c *IsolationChecker) CheckAccess(accountID string, resourceIDs []string) *IsolationReceipt {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	receipt := &IsolationReceipt{
		ReceiptID:   fmt.Sprintf("iso-%d", c.seq),
		AccountID:   accountID,
		OperationID: fmt.Sprintf("op-%d", c.seq),
		Isolated:    true,
		Timestamp:   c.clock(),
	}

	ownResources := c.accountData[accountID]

	for _, resourceID := range resourceIDs {
		if ownResources != nil && ownResources[resourceID] {
			receipt.ChecksPassed++
			continue
		}

		crossAccount := false
		for otherAccount, resources := range c.accountData {
			if otherAccount != accountID && resources[resourceID] {
				crossAccount = true
				receipt.Violations = append(receipt.Violations,
					fmt.Sprintf("account %s attempted to access resource %s owned by %s", accountID, resourceID, otherAccount))
				break
			}
		}

		if crossAccount {
			receipt.ChecksFailed++
			receipt.Isolated = false
		} else {
			// Resource not registered to any account — could be unregistered.
			receipt.ChecksPassed++
		}
	}

	hashInput := fmt.Sprintf("%s:%s:%d:%d", receipt.AccountID, receipt.OperationID, receipt.ChecksPassed, receipt.ChecksFailed)
	h := sha256.Sum256([]byte(hashInput))
	receipt.ContentHash = "sha256:" + hex.EncodeToString(h[:])

	return receipt
}

// VerifyIsolation does a comprehensive cross-account check over every
// registered resource, flagging any resource claimed by more than one
// account.
func (c *IsolationChecker) VerifyIsolation() (bool, []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var violations []string
	resourceOwners := make(map[string]string)
	for accountID, resources := range c.accountData {
		for resourceID := range resources {
			if owner, exists := resourceOwners[resourceID]; exists {
				violations = append(violations,
					fmt.Sprintf("resource %s claimed by both %s and %s", resourceID, owner, accountID))
			} else {
				resourceOwners[resourceID] = accountID
			}
		}
	}

	return len(violations) == 0, violations
}
