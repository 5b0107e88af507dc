package devicekit

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ============================================================================
// PERMISSION CHECKING
// ============================================================================

// HasPermission decides whether identity may act on a device with at least
// minRole. The admin claim always allows without a lookup; a missing
// association denies; otherwise the association's role must meet minRole.
// Store failures other than not-found are returned, never read as a denial.
//
// Example:
//
//	ok, err := service.HasPermission(ctx, identity, deviceID, devicekit.RoleEditor)
func (s *Service) HasPermission(ctx context.Context, identity Identity, deviceID string, minRole Role) (bool, error) {
	if identity.IsAdmin() {
		return true, nil
	}

	assoc, err := s.store.GetAssociation(ctx, identity.UserID, deviceID)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	return Meets(assoc.Role, minRole), nil
}

// Authorize is HasPermission turned into an error: nil when allowed, a
// Forbidden error naming the required role when denied.
//
// Example:
//
//	if err := service.Authorize(ctx, identity, deviceID, devicekit.RoleOwner); err != nil {
//	    return err // devicekit.IsForbidden(err)
//	}
func (s *Service) Authorize(ctx context.Context, identity Identity, deviceID string, minRole Role) error {
	allowed, err := s.HasPermission(ctx, identity, deviceID, minRole)
	if err != nil {
		return err
	}
	if !allowed {
		s.log(ctx).WithFields(logrus.Fields{
			"user_id":   identity.UserID,
			"device_id": deviceID,
			"role":      minRole,
		}).Debug("permission denied")
		return NewError(ErrForbidden, fmt.Sprintf("requires role %s", minRole)).
			WithUser(identity.UserID).
			WithDevice(deviceID).
			WithRequiredRole(minRole)
	}
	return nil
}

// CheckerFor returns a Checker bound to identity.
func (s *Service) CheckerFor(identity Identity) *Checker {
	return NewChecker(identity, s)
}

// canManagePlant allows admins and the plant's owner.
func canManagePlant(identity Identity, plant *Plant) bool {
	if identity.IsAdmin() {
		return true
	}
	return plant.OwnerUserID != nil && *plant.OwnerUserID == identity.UserID
}

// authorizePlant returns a Forbidden error unless identity may modify plant.
func authorizePlant(identity Identity, plant *Plant) error {
	if canManagePlant(identity, plant) {
		return nil
	}
	return NewError(ErrForbidden, "requires plant owner").
		WithUser(identity.UserID).
		WithPlant(plant.ID).
		WithRequiredRole(RoleOwner)
}

// AuthorizeAssociate decides whether identity may create an association
// of targetUserID with a device. Admins and owners of the device may
// associate anyone; any user may claim a device that has no associations
// yet for themselves. A missing device yields ErrNotFound.
//
// The answer can be stale by the time Associate runs; AssociateAs repeats
// the same decision inside its transaction.
func (s *Service) AuthorizeAssociate(ctx context.Context, identity Identity, targetUserID, deviceID string) error {
	if _, err := s.store.GetDevice(ctx, deviceID); err != nil {
		return err
	}
	return s.authorizeAssociate(ctx, s.store, identity, targetUserID, deviceID)
}

// authorizeAssociate reads the device's associations through repo. The
// caller has already checked that the device exists.
func (s *Service) authorizeAssociate(ctx context.Context, repo Repository, identity Identity, targetUserID, deviceID string) error {
	if identity.IsAdmin() {
		return nil
	}

	assocs, err := repo.ListDeviceAssociations(ctx, deviceID)
	if err != nil {
		return err
	}
	for _, assoc := range assocs {
		if assoc.UserID == identity.UserID && Meets(assoc.Role, RoleOwner) {
			return nil
		}
	}
	if targetUserID == identity.UserID && len(assocs) == 0 {
		return nil
	}

	s.log(ctx).WithFields(logrus.Fields{
		"user_id":   identity.UserID,
		"target":    targetUserID,
		"device_id": deviceID,
	}).Debug("association denied")
	return NewError(ErrForbidden, fmt.Sprintf("requires role %s", RoleOwner)).
		WithUser(identity.UserID).
		WithDevice(deviceID).
		WithRequiredRole(RoleOwner)
}
