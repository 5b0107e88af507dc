package devicekit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// apiHarness drives the HTTP API with static bearer tokens.
type apiHarness struct {
	*TestDataHelper
	router *mux.Router
}

func newAPIHarness(t *testing.T) *apiHarness {
	h := NewTestDataHelper(t)
	mw := NewMiddleware(h.service, StaticResolver{
		"token-u":     {UserID: "user-u"},
		"token-u2":    {UserID: "user-u2"},
		"token-admin": {UserID: "admin-1", Claims: []string{ClaimAdmin}},
	})
	return &apiHarness{
		TestDataHelper: h,
		router:         NewAPI(h.service, mw, nil).Router(),
	}
}

func (a *apiHarness) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(dest), w.Body.String())
}

func TestAPIRequiresAuthentication(t *testing.T) {
	a := newAPIHarness(t)

	w := a.do(http.MethodGet, "/api/user/devices", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", decodeError(t, w).Error)

	w = a.do(http.MethodGet, "/api/user/devices", "forged", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestAPIOwnerScenario tests that an owner may toggle, update and remove
// their device while a user without an association is refused each time.
func TestAPIOwnerScenario(t *testing.T) {
	a := newAPIHarness(t)
	device := a.CreateTestDevice("ESP32")
	base := "/api/user/devices/" + device.ID

	w := a.do(http.MethodPost, "/api/user/devices", "token-u", map[string]string{
		"microcontroller_id": device.ID,
		"role":               "owner",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var assoc UserDevice
	decodeBody(t, w, &assoc)
	assert.Equal(t, "user-u", assoc.UserID)
	assert.Equal(t, RoleOwner, assoc.Role)

	t.Run("Stranger is forbidden", func(t *testing.T) {
		w := a.do(http.MethodPatch, base+"/enabled", "token-u2", map[string]bool{"enabled": false})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, RoleEditor, decodeError(t, w).RequiredRole)

		w = a.do(http.MethodPatch, base, "token-u2", map[string]string{"location": "Mesa B"})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, RoleEditor, decodeError(t, w).RequiredRole)

		w = a.do(http.MethodDelete, base, "token-u2", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, RoleOwner, decodeError(t, w).RequiredRole)

		stored, err := a.service.GetDevice(a.ctx, device.ID)
		require.NoError(t, err)
		assert.True(t, stored.Enabled)
		assert.Nil(t, stored.Location)
	})

	t.Run("Owner may set enabled", func(t *testing.T) {
		w := a.do(http.MethodPatch, base+"/enabled", "token-u", map[string]bool{"enabled": false})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var body struct {
			ID      string `json:"id"`
			Enabled bool   `json:"enabled"`
		}
		decodeBody(t, w, &body)
		assert.Equal(t, device.ID, body.ID)
		assert.False(t, body.Enabled)
	})

	t.Run("Owner may update the device", func(t *testing.T) {
		w := a.do(http.MethodPatch, base, "token-u", map[string]string{"location": "Mesa B"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var updated Device
		decodeBody(t, w, &updated)
		require.NotNil(t, updated.Location)
		assert.Equal(t, "Mesa B", *updated.Location)
		assert.Equal(t, "ESP32", updated.Type)
		assert.False(t, updated.Enabled)
	})

	t.Run("Owner may delete the association", func(t *testing.T) {
		w := a.do(http.MethodDelete, base, "token-u", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = a.do(http.MethodGet, "/api/user/devices", "token-u", nil)
		var list deviceListResponse
		decodeBody(t, w, &list)
		assert.Empty(t, list.Devices)
	})
}

func TestAPIAssociate(t *testing.T) {
	a := newAPIHarness(t)
	device := a.CreateTestDevice("ESP32")

	t.Run("Default role is viewer", func(t *testing.T) {
		w := a.do(http.MethodPost, "/api/user/devices", "token-u", map[string]string{"microcontroller_id": device.ID})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var assoc UserDevice
		decodeBody(t, w, &assoc)
		assert.Equal(t, RoleViewer, assoc.Role)
	})

	t.Run("Duplicate is a conflict", func(t *testing.T) {
		w := a.do(http.MethodPost, "/api/user/devices", "token-admin", map[string]string{
			"microcontroller_id": device.ID,
			"user_id":            "user-u",
			"role":               "owner",
		})
		assert.Equal(t, http.StatusConflict, w.Code)

		assoc, err := a.service.GetAssociation(a.ctx, "user-u", device.ID)
		require.NoError(t, err)
		assert.Equal(t, RoleViewer, assoc.Role)
	})

	t.Run("Claimed device cannot be self-claimed", func(t *testing.T) {
		w := a.do(http.MethodPost, "/api/user/devices", "token-u2", map[string]string{"microcontroller_id": device.ID})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Missing device", func(t *testing.T) {
		w := a.do(http.MethodPost, "/api/user/devices", "token-u", map[string]string{
			"microcontroller_id": "00000000-0000-0000-0000-000000000000",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Malformed UUID", func(t *testing.T) {
		w := a.do(http.MethodPost, "/api/user/devices", "token-u", map[string]string{"microcontroller_id": "esp-1"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unknown field", func(t *testing.T) {
		w := a.do(http.MethodPost, "/api/user/devices", "token-u", map[string]string{
			"microcontroller_id": device.ID,
			"nickname":           "x",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("With plant", func(t *testing.T) {
		other := a.CreateTestDevice("ESP8266")
		plant := a.CreateTestPlant("user-u2", "Lechugas Hidro")
		w := a.do(http.MethodPost, "/api/user/devices", "token-u2", map[string]string{
			"microcontroller_id": other.ID,
			"plant_id":           plant.ID,
			"role":               "owner",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		stored, err := a.service.GetDevice(a.ctx, other.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.PlantID)
		assert.Equal(t, plant.ID, *stored.PlantID)
	})
}

func TestAPIListUserDevices(t *testing.T) {
	a := newAPIHarness(t)
	plant := a.CreateTestPlant("user-u", "Tomates Cherry")
	withPlant := a.CreateTestDevice("ESP32")
	bare := a.CreateTestDevice("ESP8266")

	_, err := a.service.Associate(a.ctx, "user-u", withPlant.ID, &plant.ID, RoleOwner)
	require.NoError(t, err)
	a.Associate("user-u", bare.ID, RoleEditor)

	list := func(query string) []map[string]interface{} {
		w := a.do(http.MethodGet, "/api/user/devices"+query, "token-u", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Devices []map[string]interface{} `json:"devices"`
		}
		decodeBody(t, w, &body)
		return body.Devices
	}

	devices := list("")
	require.Len(t, devices, 2)
	byID := map[string]map[string]interface{}{}
	for _, d := range devices {
		byID[d["id"].(string)] = d
	}

	assert.Equal(t, "owner", byID[withPlant.ID]["role"])
	plantJSON, ok := byID[withPlant.ID]["plant"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Tomates Cherry", plantJSON["name"])

	assert.Equal(t, "editor", byID[bare.ID]["role"])
	assert.Nil(t, byID[bare.ID]["plant"])

	filtered := list("?name=" + url.QueryEscape("tomates"))
	require.Len(t, filtered, 1)
	assert.Equal(t, withPlant.ID, filtered[0]["id"])

	assert.Len(t, list("?type=esp8266"), 1)
	assert.Empty(t, list("?type=esp8266&name=tomates"))

	// Other users see nothing
	w := a.do(http.MethodGet, "/api/user/devices", "token-u2", nil)
	assert.JSONEq(t, `{"devices":[]}`, w.Body.String())
}

func TestAPIDeviceUsers(t *testing.T) {
	a := newAPIHarness(t)
	device := a.CreateTestDevice("ESP32")
	a.Associate("user-u", device.ID, RoleOwner)
	a.Associate("user-u2", device.ID, RoleViewer)

	w := a.do(http.MethodGet, "/api/user/devices/"+device.ID+"/users", "token-u", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Users []UserDevice `json:"users"`
	}
	decodeBody(t, w, &body)
	assert.Len(t, body.Users, 2)

	w = a.do(http.MethodGet, "/api/user/devices/"+device.ID+"/users", "token-u2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Owner removes the viewer
	w = a.do(http.MethodDelete, "/api/user/devices/"+device.ID+"?user_id=user-u2", "token-u", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	a.AssertAssociationCount(device.ID, 1)

	// Already gone
	w = a.do(http.MethodDelete, "/api/user/devices/"+device.ID+"?user_id=user-u2", "token-u", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIDeviceCatalog(t *testing.T) {
	a := newAPIHarness(t)

	w := a.do(http.MethodPost, "/api/v1/devices", "token-u", map[string]string{"unique_id": "ESP32-1", "type": "esp32"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodPost, "/api/v1/devices", "token-admin", map[string]string{"unique_id": "ESP32-1", "type": "esp32"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var device Device
	decodeBody(t, w, &device)
	assert.True(t, device.Enabled)

	w = a.do(http.MethodPost, "/api/v1/devices", "token-admin", map[string]string{"unique_id": "ESP32-1", "type": "esp32"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(http.MethodGet, "/api/v1/devices/"+device.ID, "token-u", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	a.Associate("user-u", device.ID, RoleViewer)
	w = a.do(http.MethodGet, "/api/v1/devices/"+device.ID, "token-u", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodGet, "/api/v1/devices/not-a-uuid", "token-u", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Catalog listing is admin only
	w = a.do(http.MethodGet, "/api/v1/devices", "token-u", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	a.CreateTestDevice("Arduino")
	w = a.do(http.MethodGet, "/api/v1/devices", "token-admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var catalog struct {
		Devices []Device `json:"devices"`
	}
	decodeBody(t, w, &catalog)
	require.Len(t, catalog.Devices, 2)
	ids := []string{catalog.Devices[0].ID, catalog.Devices[1].ID}
	assert.Contains(t, ids, device.ID)
}

func TestAPIUpdateDeviceValidation(t *testing.T) {
	a := newAPIHarness(t)
	device := a.CreateTestDevice("ESP32")
	a.Associate("user-u", device.ID, RoleEditor)
	base := "/api/user/devices/" + device.ID

	w := a.do(http.MethodPatch, base+"/enabled", "token-u", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodPatch, base, "token-u", map[string]string{"plant_id": "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodPatch, base, "token-u", map[string]string{"plant_id": "00000000-0000-0000-0000-000000000000"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Editors may not remove associations
	w = a.do(http.MethodDelete, base, "token-u", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAPIPlants(t *testing.T) {
	a := newAPIHarness(t)

	w := a.do(http.MethodPost, "/api/v1/plants", "token-u", map[string]string{"name": "Tomates Cherry", "location": "Invernadero 1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var plant Plant
	decodeBody(t, w, &plant)
	require.NotNil(t, plant.OwnerUserID)
	assert.Equal(t, "user-u", *plant.OwnerUserID)
	base := "/api/v1/plants/" + plant.ID

	w = a.do(http.MethodGet, "/api/v1/plants", "token-u", nil)
	var listed struct {
		Plants []Plant `json:"plants"`
	}
	decodeBody(t, w, &listed)
	assert.Len(t, listed.Plants, 1)

	w = a.do(http.MethodPatch, base, "token-u2", map[string]string{"name": "Mine"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodPatch, base, "token-u", map[string]string{"name": "Tomates Pera"})
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &plant)
	assert.Equal(t, "Tomates Pera", plant.Name)

	device := a.CreateTestDevice("ESP32")
	a.Associate("user-u", device.ID, RoleEditor)
	w = a.do(http.MethodPost, base+"/devices/"+device.ID, "token-u", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(http.MethodGet, base+"/devices", "token-u", nil)
	var devices struct {
		Devices []Device `json:"devices"`
	}
	decodeBody(t, w, &devices)
	require.Len(t, devices.Devices, 1)
	assert.Equal(t, device.ID, devices.Devices[0].ID)

	w = a.do(http.MethodDelete, base+"/devices/"+device.ID, "token-u", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = a.do(http.MethodDelete, base, "token-u", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = a.do(http.MethodGet, base, "token-u", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIPlantPhoto(t *testing.T) {
	a := newAPIHarness(t)
	plant := a.CreateTestPlant("user-u", "Tomates Cherry")
	path := "/api/v1/plants/" + plant.ID + "/photo"

	upload := func(token string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		form := multipart.NewWriter(&buf)
		part, err := form.CreateFormFile("file", "tomates.jpg")
		require.NoError(t, err)
		_, err = part.Write([]byte("jpeg-bytes"))
		require.NoError(t, err)
		require.NoError(t, form.Close())

		req := httptest.NewRequest(http.MethodPost, path, &buf)
		req.Header.Set("Content-Type", form.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		a.router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusForbidden, upload("token-u2").Code)

	w := upload("token-u")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated Plant
	decodeBody(t, w, &updated)
	require.NotNil(t, updated.ImageURL)
	assert.True(t, strings.HasPrefix(*updated.ImageURL, "plants/"+plant.ID+"/"))
	assert.Equal(t, 1, a.photos.Len())

	w = a.do(http.MethodGet, path, "token-u2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jpeg-bytes", w.Body.String())

	w = a.do(http.MethodDelete, path, "token-u", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, a.photos.Len())

	w = a.do(http.MethodGet, path, "token-u", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIPhotosDisabled(t *testing.T) {
	service := NewService(NewMemoryStore())
	mw := NewMiddleware(service, StaticResolver{"token-u": {UserID: "user-u"}})
	router := NewAPI(service, mw, nil).Router()

	plant, err := service.CreatePlant(context.Background(), "user-u", "Tomates Cherry", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plants/"+plant.ID+"/photo", nil)
	req.Header.Set("Authorization", "Bearer token-u")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestAPIAuditLog(t *testing.T) {
	a := newAPIHarness(t)
	device := a.CreateTestDevice("ESP32")

	w := a.do(http.MethodPost, "/api/user/devices", "token-u", map[string]string{"microcontroller_id": device.ID, "role": "owner"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = a.do(http.MethodGet, "/api/v1/audit", "token-u", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodGet, "/api/v1/audit?user_id=user-u", "token-admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Entries []AssociationAuditLog `json:"entries"`
	}
	decodeBody(t, w, &body)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "user-u", body.Entries[0].ActorID)
	assert.Equal(t, string(AuditActionAssociated), body.Entries[0].Action)
	assert.NotEmpty(t, body.Entries[0].RequestID)

	w = a.do(http.MethodGet, "/api/v1/audit?limit=0", "token-admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodGet, "/api/v1/audit?since=yesterday", "token-admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodGet, "/api/v1/audit?microcontroller_id=not-a-uuid", "token-admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodGet, "/api/v1/audit?microcontroller_id="+strings.ToUpper(device.ID), "token-admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body.Entries = nil
	decodeBody(t, w, &body)
	assert.Len(t, body.Entries, 1)
}

func TestAPIHealthAndNotFound(t *testing.T) {
	a := newAPIHarness(t)

	w := a.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report struct {
		Healthy  bool `json:"healthy"`
		Database struct {
			Healthy bool `json:"healthy"`
		} `json:"database"`
	}
	decodeBody(t, w, &report)
	assert.True(t, report.Healthy)

	w = a.do(http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
