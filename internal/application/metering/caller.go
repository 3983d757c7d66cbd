package metering

import (
	"github.com/google/uuid"

	"github.com/voxsuite/backend/internal/domain/shared"
)

// Caller identifies the authenticated principal making a request. A zero
// Caller means the request carried no valid credentials.
type Caller struct {
	UserID  uuid.UUID
	IsAdmin bool
}

// IsAuthenticated returns true when the caller carries a user identity
func (c Caller) IsAuthenticated() bool {
	return c.UserID != uuid.Nil
}

// authorizeOwnerOrAdmin enforces the access rule shared by every per-user
// operation: a user may act on their own account and admins may act on any.
// Missing credentials and insufficient permission are distinct errors so the
// transport layer can map them to 401 and 403 respectively.
func authorizeOwnerOrAdmin(caller Caller, targetUserID uuid.UUID) error {
	if !caller.IsAuthenticated() {
		return shared.ErrUnauthorized
	}
	if caller.IsAdmin || caller.UserID == targetUserID {
		return nil
	}
	return shared.ErrForbidden
}

// authorizeAdmin restricts an operation to administrators
func authorizeAdmin(caller Caller) error {
	if !caller.IsAuthenticated() {
		return shared.ErrUnauthorized
	}
	if !caller.IsAdmin {
		return shared.ErrForbidden
	}
	return nil
}
