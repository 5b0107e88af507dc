package devicekit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAssociate tests association creation
func TestAssociate(t *testing.T) {
	h := NewTestDataHelper(t)

	t.Run("Default role is viewer", func(t *testing.T) {
		device := h.CreateTestDevice("ESP32")
		user := h.CreateTestUser("user")

		assoc, err := h.service.Associate(h.ctx, user, device.ID, nil, "")
		require.NoError(t, err)
		assert.Equal(t, RoleViewer, assoc.Role)
		assert.False(t, assoc.CreatedAt.IsZero())

		stored, err := h.service.GetAssociation(h.ctx, user, device.ID)
		require.NoError(t, err)
		assert.Equal(t, RoleViewer, stored.Role)
	})

	t.Run("Assigns plant in the same operation", func(t *testing.T) {
		device := h.CreateTestDevice("ESP32")
		user := h.CreateTestUser("user")
		plant := h.CreateTestPlant(user, "Tomates Cherry")

		_, err := h.service.Associate(h.ctx, user, device.ID, &plant.ID, RoleOwner)
		require.NoError(t, err)

		updated, err := h.service.GetDevice(h.ctx, device.ID)
		require.NoError(t, err)
		require.NotNil(t, updated.PlantID)
		assert.Equal(t, plant.ID, *updated.PlantID)
	})

	t.Run("Duplicate is a conflict and keeps one row", func(t *testing.T) {
		device := h.CreateTestDevice("ESP32")
		user := h.CreateTestUser("user")
		h.Associate(user, device.ID, RoleOwner)

		_, err := h.service.Associate(h.ctx, user, device.ID, nil, RoleViewer)
		require.Error(t, err)
		assert.True(t, IsConflict(err))
		assert.ErrorIs(t, err, ErrAssociationExists)

		h.AssertAssociationCount(device.ID, 1)
		stored, err := h.service.GetAssociation(h.ctx, user, device.ID)
		require.NoError(t, err)
		assert.Equal(t, RoleOwner, stored.Role, "role must not change on conflict")
	})

	t.Run("Missing plant rolls back the association", func(t *testing.T) {
		device := h.CreateTestDevice("ESP32")
		user := h.CreateTestUser("user")
		missing := "00000000-0000-0000-0000-000000000000"

		_, err := h.service.Associate(h.ctx, user, device.ID, &missing, RoleOwner)
		require.Error(t, err)
		assert.True(t, IsNotFound(err))

		_, err = h.service.GetAssociation(h.ctx, user, device.ID)
		assert.True(t, IsNotFound(err))
		h.AssertAssociationCount(device.ID, 0)

		stored, err := h.service.GetDevice(h.ctx, device.ID)
		require.NoError(t, err)
		assert.Nil(t, stored.PlantID)
	})

	t.Run("Missing device", func(t *testing.T) {
		_, err := h.service.Associate(h.ctx, h.CreateTestUser("user"), "00000000-0000-0000-0000-000000000000", nil, RoleOwner)
		assert.True(t, IsNotFound(err))
	})

	t.Run("Empty identifiers", func(t *testing.T) {
		_, err := h.service.Associate(h.ctx, "", "device", nil, RoleOwner)
		assert.True(t, IsInvalidInput(err))
		_, err = h.service.Associate(h.ctx, "user", "", nil, RoleOwner)
		assert.True(t, IsInvalidInput(err))
	})

	t.Run("Unknown role is stored as given", func(t *testing.T) {
		device := h.CreateTestDevice("ESP32")
		user := h.CreateTestUser("user")

		assoc, err := h.service.Associate(h.ctx, user, device.ID, nil, Role("superadmin"))
		require.NoError(t, err)
		assert.Equal(t, Role("superadmin"), assoc.Role)
	})
}

// TestAssociateAs tests association on behalf of a caller
func TestAssociateAs(t *testing.T) {
	h := NewTestDataHelper(t)
	first := Identity{UserID: h.CreateTestUser("first")}
	second := Identity{UserID: h.CreateTestUser("second")}

	t.Run("Claim of an unclaimed device", func(t *testing.T) {
		device := h.CreateTestDevice("ESP32")

		assoc, err := h.service.AssociateAs(h.ctx, first, first.UserID, device.ID, nil, RoleOwner)
		require.NoError(t, err)
		assert.Equal(t, RoleOwner, assoc.Role)

		_, err = h.service.AssociateAs(h.ctx, second, second.UserID, device.ID, nil, RoleOwner)
		require.Error(t, err)
		assert.True(t, IsForbidden(err))
		h.AssertAssociationCount(device.ID, 1)
	})

	t.Run("Owner associates another user", func(t *testing.T) {
		device := h.CreateTestDevice("ESP32")
		h.Associate(first.UserID, device.ID, RoleOwner)

		assoc, err := h.service.AssociateAs(h.ctx, first, second.UserID, device.ID, nil, RoleViewer)
		require.NoError(t, err)
		assert.Equal(t, second.UserID, assoc.UserID)
		h.AssertAssociationCount(device.ID, 2)
	})

	t.Run("Missing device", func(t *testing.T) {
		_, err := h.service.AssociateAs(h.ctx, first, first.UserID, "00000000-0000-0000-0000-000000000000", nil, RoleOwner)
		assert.True(t, IsNotFound(err))
	})

	t.Run("Concurrent claims leave one owner", func(t *testing.T) {
		device := h.CreateTestDevice("ESP32")
		claimants := []Identity{first, second, {UserID: h.CreateTestUser("third")}}

		var wg sync.WaitGroup
		errs := make([]error, len(claimants))
		for i, identity := range claimants {
			wg.Add(1)
			go func(i int, identity Identity) {
				defer wg.Done()
				_, errs[i] = h.service.AssociateAs(h.ctx, identity, identity.UserID, device.ID, nil, RoleOwner)
			}(i, identity)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, IsForbidden(err))
		}
		assert.Equal(t, 1, succeeded)
		h.AssertAssociationCount(device.ID, 1)
	})
}

// TestDeleteAssociation tests association removal
func TestDeleteAssociation(t *testing.T) {
	h := NewTestDataHelper(t)
	user := h.CreateTestUser("user")
	plant := h.CreateTestPlant(user, "Lechugas Hidro")
	device := h.CreateTestDevice("ESP32")
	_, err := h.service.Associate(h.ctx, user, device.ID, &plant.ID, RoleOwner)
	require.NoError(t, err)

	removed, err := h.service.DeleteAssociation(h.ctx, user, device.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = h.service.GetAssociation(h.ctx, user, device.ID)
	assert.True(t, IsNotFound(err))

	// Device and its plant are untouched
	stored, err := h.service.GetDevice(h.ctx, device.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PlantID)
	assert.Equal(t, plant.ID, *stored.PlantID)

	t.Run("Second delete reports nothing removed", func(t *testing.T) {
		removed, err := h.service.DeleteAssociation(h.ctx, user, device.ID)
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("Non-existent pair", func(t *testing.T) {
		removed, err := h.service.DeleteAssociation(h.ctx, "nobody", "nothing")
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("Can associate again after delete", func(t *testing.T) {
		h.Associate(user, device.ID, RoleEditor)
	})
}

func TestListDeviceUsers(t *testing.T) {
	h := NewTestDataHelper(t)
	device := h.CreateTestDevice("ESP32")
	owner := h.CreateTestUser("owner")
	viewer := h.CreateTestUser("viewer")
	h.Associate(owner, device.ID, RoleOwner)
	h.Associate(viewer, device.ID, RoleViewer)

	assocs, err := h.service.ListDeviceUsers(h.ctx, device.ID)
	require.NoError(t, err)
	require.Len(t, assocs, 2)
	assert.Equal(t, owner, assocs[0].UserID)
	assert.Equal(t, viewer, assocs[1].UserID)

	_, err = h.service.ListDeviceUsers(h.ctx, "00000000-0000-0000-0000-000000000000")
	assert.True(t, IsNotFound(err))
}
