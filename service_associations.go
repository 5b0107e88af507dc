package devicekit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// ============================================================================
// ASSOCIATION OPERATIONS
// ============================================================================

// Associate creates the association (userID, deviceID) with role. An empty
// role defaults to viewer. When plantID is set the device is also assigned
// to that plant. Both writes and the audit entry share one transaction.
//
// Errors: ErrAssociationExists (a Conflict) if the pair already exists,
// ErrNotFound if the device or the plant does not exist.
//
// Example:
//
//	assoc, err := service.Associate(ctx, userID, deviceID, nil, devicekit.RoleOwner)
func (s *Service) Associate(ctx context.Context, userID, deviceID string, plantID *string, role Role) (*UserDevice, error) {
	return s.associate(ctx, userID, deviceID, plantID, role, nil)
}

// AssociateAs is Associate on behalf of identity. The device row is locked
// and the AuthorizeAssociate rules are checked inside the same transaction,
// so two users claiming one unclaimed device cannot both become owner.
//
// Example:
//
//	assoc, err := service.AssociateAs(ctx, identity, identity.UserID, deviceID, nil, devicekit.RoleOwner)
func (s *Service) AssociateAs(ctx context.Context, identity Identity, userID, deviceID string, plantID *string, role Role) (*UserDevice, error) {
	return s.associate(ctx, userID, deviceID, plantID, role, func(ctx context.Context, repo Repository) error {
		if _, err := repo.LockDevice(ctx, deviceID); err != nil {
			return err
		}
		return s.authorizeAssociate(ctx, repo, identity, userID, deviceID)
	})
}

func (s *Service) associate(ctx context.Context, userID, deviceID string, plantID *string, role Role, authorize func(ctx context.Context, repo Repository) error) (*UserDevice, error) {
	if userID == "" || deviceID == "" {
		return nil, NewError(ErrInvalidInput, "user and device are required")
	}
	if role == "" {
		role = RoleViewer
	}

	assoc := &UserDevice{
		UserID:    userID,
		DeviceID:  deviceID,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}

	err := s.Transaction(ctx, func(ctx context.Context, repo Repository) error {
		if authorize != nil {
			if err := authorize(ctx, repo); err != nil {
				return err
			}
		}

		if _, err := repo.GetAssociation(ctx, userID, deviceID); err == nil {
			return NewError(ErrAssociationExists, "association already exists").
				WithUser(userID).
				WithDevice(deviceID)
		} else if !IsNotFound(err) {
			return err
		}

		device, err := repo.GetDevice(ctx, deviceID)
		if err != nil {
			return err
		}

		if err := repo.CreateAssociation(ctx, assoc); err != nil {
			return err
		}

		if plantID != nil {
			if _, err := repo.GetPlant(ctx, *plantID); err != nil {
				return err
			}
			device.PlantID = stringPtr(*plantID)
			if err := repo.SaveDevice(ctx, device); err != nil {
				return err
			}
		}

		return s.recordAudit(ctx, repo, AuditActionAssociated, assoc)
	})
	if err != nil {
		return nil, err
	}

	s.log(ctx).WithFields(logrus.Fields{
		"user_id":   userID,
		"device_id": deviceID,
		"role":      role,
	}).Info("device associated")

	return assoc, nil
}

// DeleteAssociation removes the association (userID, deviceID) and reports
// whether one existed. The device and its plant are left untouched.
//
// Example:
//
//	removed, err := service.DeleteAssociation(ctx, userID, deviceID)
func (s *Service) DeleteAssociation(ctx context.Context, userID, deviceID string) (bool, error) {
	var removed bool

	err := s.Transaction(ctx, func(ctx context.Context, repo Repository) error {
		assoc, err := repo.GetAssociation(ctx, userID, deviceID)
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}

		removed, err = repo.DeleteAssociation(ctx, userID, deviceID)
		if err != nil || !removed {
			return err
		}

		return s.recordAudit(ctx, repo, AuditActionUnassociated, assoc)
	})
	if err != nil {
		return false, err
	}

	if removed {
		s.log(ctx).WithFields(logrus.Fields{
			"user_id":   userID,
			"device_id": deviceID,
		}).Info("device association removed")
	}

	return removed, nil
}

// GetAssociation returns the association (userID, deviceID).
// Returns an error matching ErrNotFound if there is none.
func (s *Service) GetAssociation(ctx context.Context, userID, deviceID string) (*UserDevice, error) {
	return s.store.GetAssociation(ctx, userID, deviceID)
}

// ListDeviceUsers returns every association on a device.
// Returns an error matching ErrNotFound if the device does not exist.
func (s *Service) ListDeviceUsers(ctx context.Context, deviceID string) ([]UserDevice, error) {
	if _, err := s.store.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.store.ListDeviceAssociations(ctx, deviceID)
}
