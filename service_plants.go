package devicekit

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ============================================================================
// PLANT OPERATIONS
// ============================================================================

// CreatePlant adds a plant owned by ownerUserID.
//
// Example:
//
//	plant, err := service.CreatePlant(ctx, userID, "Tomates Cherry", nil)
func (s *Service) CreatePlant(ctx context.Context, ownerUserID, name string, location *string) (*Plant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewError(ErrInvalidInput, "plant name is required")
	}

	plant := &Plant{
		Name:      name,
		Location:  location,
		CreatedAt: time.Now().UTC(),
	}
	if ownerUserID != "" {
		plant.OwnerUserID = stringPtr(ownerUserID)
	}

	err := s.Transaction(ctx, func(ctx context.Context, repo Repository) error {
		return repo.CreatePlant(ctx, plant)
	})
	if err != nil {
		return nil, err
	}

	s.log(ctx).WithFields(logrus.Fields{
		"plant_id": plant.ID,
		"user_id":  ownerUserID,
	}).Info("plant created")
	return plant, nil
}

// GetPlant returns a plant by ID.
func (s *Service) GetPlant(ctx context.Context, plantID string) (*Plant, error) {
	return s.store.GetPlant(ctx, plantID)
}

// ListPlants returns the plants owned by ownerUserID, or every plant when
// ownerUserID is empty.
func (s *Service) ListPlants(ctx context.Context, ownerUserID string) ([]Plant, error) {
	return s.store.ListPlants(ctx, ownerUserID)
}

// UpdatePlant merges update into a plant. Only the plant owner or an admin
// may update it.
func (s *Service) UpdatePlant(ctx context.Context, identity Identity, plantID string, update PlantUpdate) (*Plant, error) {
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, NewError(ErrInvalidInput, "plant name cannot be empty").WithPlant(plantID)
	}

	var plant *Plant
	err := s.Transaction(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		plant, err = repo.GetPlant(ctx, plantID)
		if err != nil {
			return err
		}
		if err := authorizePlant(identity, plant); err != nil {
			return err
		}

		if update.Name != nil {
			plant.Name = strings.TrimSpace(*update.Name)
		}
		if update.Location != nil {
			plant.Location = stringPtr(*update.Location)
		}
		return repo.SavePlant(ctx, plant)
	})
	if err != nil {
		return nil, err
	}
	return plant, nil
}

// DeletePlant removes a plant. Devices assigned to it stay in the catalog
// with no plant. Returns false if the plant did not exist.
func (s *Service) DeletePlant(ctx context.Context, identity Identity, plantID string) (bool, error) {
	var (
		deleted  bool
		photoKey string
	)
	err := s.Transaction(ctx, func(ctx context.Context, repo Repository) error {
		plant, err := repo.GetPlant(ctx, plantID)
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}
		if err := authorizePlant(identity, plant); err != nil {
			return err
		}
		if plant.ImageURL != nil {
			photoKey = *plant.ImageURL
		}
		deleted, err = repo.DeletePlant(ctx, plantID)
		return err
	})
	if err != nil {
		return false, err
	}

	if deleted {
		s.removePhoto(ctx, photoKey)
		s.log(ctx).WithField("plant_id", plantID).Info("plant deleted")
	}
	return deleted, nil
}

// ListPlantDevices returns the devices assigned to a plant.
// Returns an error matching ErrNotFound if the plant does not exist.
func (s *Service) ListPlantDevices(ctx context.Context, plantID string) ([]Device, error) {
	if _, err := s.store.GetPlant(ctx, plantID); err != nil {
		return nil, err
	}
	return s.store.ListDevicesByPlant(ctx, plantID)
}

// AssignDeviceToPlant points a device at a plant. The caller must manage
// the plant and hold at least editor on the device.
func (s *Service) AssignDeviceToPlant(ctx context.Context, identity Identity, plantID, deviceID string) (*Device, error) {
	if err := s.Authorize(ctx, identity, deviceID, RoleEditor); err != nil {
		return nil, err
	}

	var device *Device
	err := s.Transaction(ctx, func(ctx context.Context, repo Repository) error {
		plant, err := repo.GetPlant(ctx, plantID)
		if err != nil {
			return err
		}
		if err := authorizePlant(identity, plant); err != nil {
			return err
		}
		device, err = repo.GetDevice(ctx, deviceID)
		if err != nil {
			return err
		}
		device.PlantID = stringPtr(plantID)
		return repo.SaveDevice(ctx, device)
	})
	if err != nil {
		return nil, err
	}
	return device, nil
}

// RemoveDeviceFromPlant clears the plant of a device assigned to plantID.
// Returns an error matching ErrNotFound if the device is not assigned to it.
func (s *Service) RemoveDeviceFromPlant(ctx context.Context, identity Identity, plantID, deviceID string) (*Device, error) {
	if err := s.Authorize(ctx, identity, deviceID, RoleEditor); err != nil {
		return nil, err
	}

	var device *Device
	err := s.Transaction(ctx, func(ctx context.Context, repo Repository) error {
		plant, err := repo.GetPlant(ctx, plantID)
		if err != nil {
			return err
		}
		if err := authorizePlant(identity, plant); err != nil {
			return err
		}
		device, err = repo.GetDevice(ctx, deviceID)
		if err != nil {
			return err
		}
		if device.PlantID == nil || *device.PlantID != plantID {
			return NewError(ErrNotFound, "device is not assigned to plant").
				WithDevice(deviceID).
				WithPlant(plantID)
		}
		device.PlantID = nil
		return repo.SaveDevice(ctx, device)
	})
	if err != nil {
		return nil, err
	}
	return device, nil
}

// ============================================================================
// PLANT PHOTOS
// ============================================================================

// UploadPlantPhoto stores content as the plant's photo and records its
// object key in the plant's image_url. A previous photo is removed.
func (s *Service) UploadPlantPhoto(ctx context.Context, identity Identity, plantID string, content io.Reader, size int64, contentType string) (*Plant, error) {
	if s.photos == nil {
		return nil, ErrPhotosDisabled
	}

	plant, err := s.store.GetPlant(ctx, plantID)
	if err != nil {
		return nil, err
	}
	if err := authorizePlant(identity, plant); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("plants/%s/%s", plantID, uuid.NewString())
	if err := s.photos.Put(ctx, key, content, size, contentType); err != nil {
		return nil, err
	}

	var previous string
	err = s.Transaction(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		plant, err = repo.GetPlant(ctx, plantID)
		if err != nil {
			return err
		}
		if plant.ImageURL != nil {
			previous = *plant.ImageURL
		}
		plant.ImageURL = stringPtr(key)
		return repo.SavePlant(ctx, plant)
	})
	if err != nil {
		s.removePhoto(ctx, key)
		return nil, err
	}

	s.removePhoto(ctx, previous)
	return plant, nil
}

// GetPlantPhoto opens the plant's photo. The caller closes the reader.
// Returns an error matching ErrNotFound if the plant has no photo.
func (s *Service) GetPlantPhoto(ctx context.Context, plantID string) (io.ReadCloser, string, error) {
	if s.photos == nil {
		return nil, "", ErrPhotosDisabled
	}

	plant, err := s.store.GetPlant(ctx, plantID)
	if err != nil {
		return nil, "", err
	}
	if plant.ImageURL == nil {
		return nil, "", NewError(ErrNotFound, "plant has no photo").WithPlant(plantID)
	}
	return s.photos.Get(ctx, *plant.ImageURL)
}

// DeletePlantPhoto clears the plant's photo.
func (s *Service) DeletePlantPhoto(ctx context.Context, identity Identity, plantID string) (*Plant, error) {
	if s.photos == nil {
		return nil, ErrPhotosDisabled
	}

	var (
		plant    *Plant
		previous string
	)
	err := s.Transaction(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		plant, err = repo.GetPlant(ctx, plantID)
		if err != nil {
			return err
		}
		if err := authorizePlant(identity, plant); err != nil {
			return err
		}
		if plant.ImageURL == nil {
			return NewError(ErrNotFound, "plant has no photo").WithPlant(plantID)
		}
		previous = *plant.ImageURL
		plant.ImageURL = nil
		return repo.SavePlant(ctx, plant)
	})
	if err != nil {
		return nil, err
	}

	s.removePhoto(ctx, previous)
	return plant, nil
}

// removePhoto deletes an object that is no longer referenced. Failures
// leave an orphan object and are only logged.
func (s *Service) removePhoto(ctx context.Context, key string) {
	if key == "" || s.photos == nil {
		return
	}
	if err := s.photos.Delete(ctx, key); err != nil {
		s.log(ctx).WithError(err).WithField("key", key).Warn("failed to delete plant photo")
	}
}
