package devicekit

import "context"

// Checker provides permission checking for one identity.
// It is created by the middleware and stored in context for use in handlers.
type Checker struct {
	identity Identity
	service  *Service
}

// NewChecker creates a new Checker for an identity.
func NewChecker(identity Identity, service *Service) *Checker {
	return &Checker{
		identity: identity,
		service:  service,
	}
}

// UserID returns the user ID this checker is for.
func (c *Checker) UserID() string {
	return c.identity.UserID
}

// Identity returns the identity this checker is for.
func (c *Checker) Identity() Identity {
	return c.identity
}

// IsAdmin reports whether the identity carries the admin claim.
func (c *Checker) IsAdmin() bool {
	return c.identity.IsAdmin()
}

// Can checks if the identity holds at least minRole on a device.
//
// Example:
//
//	ok, err := checker.Can(ctx, deviceID, devicekit.RoleEditor)
//	if err != nil {
//	    // store failure
//	}
func (c *Checker) Can(ctx context.Context, deviceID string, minRole Role) (bool, error) {
	return c.service.HasPermission(ctx, c.identity, deviceID, minRole)
}

// Require is Can returning a Forbidden error on denial.
func (c *Checker) Require(ctx context.Context, deviceID string, minRole Role) error {
	return c.service.Authorize(ctx, c.identity, deviceID, minRole)
}

// RoleOn returns the identity's role on a device, or false if it has none.
func (c *Checker) RoleOn(ctx context.Context, deviceID string) (Role, bool, error) {
	assoc, err := c.service.GetAssociation(ctx, c.identity.UserID, deviceID)
	if err != nil {
		if IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return assoc.Role, true, nil
}

// CanManagePlant reports whether the identity owns the plant or is admin.
func (c *Checker) CanManagePlant(plant *Plant) bool {
	return canManagePlant(c.identity, plant)
}
