// Package access decides whether a caller may read or write a
// conversation. A conversation is reachable by its owner, or by anyone
// when it is marked shared.
package access

import "branchdb/pkg/models"

// OwnerOrShared is the default policy.
type OwnerOrShared struct{}

// CanAccess reports whether callerID may operate on c.
func (OwnerOrShared) CanAccess(c *models.Conversation, callerID string) bool {
	if c == nil {
		return false
	}
	if c.Shared {
		return true
	}
	return c.Owner != "" && c.Owner == callerID
}
