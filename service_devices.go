package devicekit

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ============================================================================
// DEVICE OPERATIONS
// ============================================================================

// RegisterDevice adds a device to the catalog. Enabled defaults to true.
// A unique_id that is already registered yields ErrConflict; a plant that
// does not exist yields ErrNotFound.
//
// Example:
//
//	device, err := service.RegisterDevice(ctx, devicekit.DeviceRegistration{
//	    UniqueID: "ESP32-A1B2C3",
//	    Type:     "esp32",
//	})
func (s *Service) RegisterDevice(ctx context.Context, reg DeviceRegistration) (*Device, error) {
	reg.UniqueID = strings.TrimSpace(reg.UniqueID)
	reg.Type = strings.TrimSpace(reg.Type)
	if reg.UniqueID == "" {
		return nil, NewError(ErrInvalidInput, "unique_id is required")
	}
	if reg.Type == "" {
		return nil, NewError(ErrInvalidInput, "type is required")
	}

	device := &Device{
		UniqueID:  reg.UniqueID,
		Type:      reg.Type,
		Location:  reg.Location,
		Enabled:   true,
		PlantID:   reg.PlantID,
		CreatedAt: time.Now().UTC(),
	}
	if reg.Enabled != nil {
		device.Enabled = *reg.Enabled
	}

	err := s.Transaction(ctx, func(ctx context.Context, repo Repository) error {
		if device.PlantID != nil {
			if _, err := repo.GetPlant(ctx, *device.PlantID); err != nil {
				return err
			}
		}
		return repo.CreateDevice(ctx, device)
	})
	if err != nil {
		return nil, err
	}

	s.log(ctx).WithFields(logrus.Fields{
		"device_id": device.ID,
		"unique_id": device.UniqueID,
	}).Info("device registered")

	return device, nil
}

// GetDevice returns a device by ID.
func (s *Service) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	return s.store.GetDevice(ctx, deviceID)
}

// ListDevices returns the whole device catalog, oldest first. It performs no
// permission check; the HTTP layer restricts it to admins.
func (s *Service) ListDevices(ctx context.Context) ([]Device, error) {
	return s.store.ListDevices(ctx)
}

// UpdateDevice merges update into the stored device: fields left nil keep
// their value. It performs no permission check; callers authorize first.
//
// Example:
//
//	loc := "greenhouse 2"
//	device, err := service.UpdateDevice(ctx, deviceID, devicekit.DeviceUpdate{Location: &loc})
func (s *Service) UpdateDevice(ctx context.Context, deviceID string, update DeviceUpdate) (*Device, error) {
	if update.Type != nil && strings.TrimSpace(*update.Type) == "" {
		return nil, NewError(ErrInvalidInput, "type cannot be empty").WithDevice(deviceID)
	}

	var device *Device
	err := s.Transaction(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		device, err = repo.GetDevice(ctx, deviceID)
		if err != nil {
			return err
		}

		if update.PlantID != nil && *update.PlantID != "" {
			if _, err := repo.GetPlant(ctx, *update.PlantID); err != nil {
				return err
			}
		}

		update.apply(device)
		return repo.SaveDevice(ctx, device)
	})
	if err != nil {
		return nil, err
	}

	s.log(ctx).WithField("device_id", deviceID).Debug("device updated")
	return device, nil
}

// SetEnabled changes only the enabled flag of a device.
//
// Example:
//
//	device, err := service.SetEnabled(ctx, deviceID, false)
func (s *Service) SetEnabled(ctx context.Context, deviceID string, enabled bool) (*Device, error) {
	var device *Device
	err := s.Transaction(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		device, err = repo.GetDevice(ctx, deviceID)
		if err != nil {
			return err
		}
		device.Enabled = enabled
		return repo.SaveDevice(ctx, device)
	})
	if err != nil {
		return nil, err
	}

	s.log(ctx).WithFields(logrus.Fields{
		"device_id": deviceID,
		"enabled":   enabled,
	}).Debug("device enabled flag set")
	return device, nil
}

// ListForUser returns every device userID has an association with, with the
// user's role and the device's plant, narrowed by filter.
//
// Example:
//
//	views, err := service.ListForUser(ctx, userID, devicekit.NewDeviceFilter().WithType("esp"))
func (s *Service) ListForUser(ctx context.Context, userID string, filter DeviceFilter) ([]DeviceView, error) {
	return s.store.ListDevicesForUser(ctx, userID, filter)
}
