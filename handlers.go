package devicekit

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// maxPhotoSize bounds uploaded plant photos.
const maxPhotoSize = 10 << 20

// API exposes the service over HTTP.
type API struct {
	service *Service
	mw      *Middleware
	health  *HealthService
	logger  logrus.FieldLogger
}

// NewAPI creates the HTTP API. health may be nil, in which case /healthz
// only reports the transaction monitor.
func NewAPI(service *Service, mw *Middleware, health *HealthService) *API {
	if health == nil {
		health = NewHealthService(service, nil)
	}
	return &API{
		service: service,
		mw:      mw,
		health:  health,
		logger:  mw.logger,
	}
}

// Router returns a gorilla/mux router with every route registered.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	a.Register(r)
	return r
}

// Register adds the API routes and middleware chain to r.
func (a *API) Register(r *mux.Router) {
	r.Use(a.mw.RequestID(), a.mw.Recover(), a.mw.AccessLog(), a.mw.InjectAuditContext())
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		a.mw.WriteError(w, req, NewError(ErrNotFound, "route not found"))
	})

	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(a.mw.Authenticate())

	device := DeviceFromParam("deviceID")

	// User device associations
	api.HandleFunc("/user/devices", a.handleListUserDevices).Methods(http.MethodGet)
	api.HandleFunc("/user/devices", a.handleAssociate).Methods(http.MethodPost)
	api.Handle("/user/devices/{deviceID}",
		a.mw.RequireRole(RoleEditor, device)(http.HandlerFunc(a.handleUpdateDevice))).Methods(http.MethodPatch)
	api.Handle("/user/devices/{deviceID}/enabled",
		a.mw.RequireRole(RoleEditor, device)(http.HandlerFunc(a.handleSetEnabled))).Methods(http.MethodPatch)
	api.Handle("/user/devices/{deviceID}",
		a.mw.RequireRole(RoleOwner, device)(http.HandlerFunc(a.handleDeleteAssociation))).Methods(http.MethodDelete)
	api.Handle("/user/devices/{deviceID}/users",
		a.mw.RequireRole(RoleOwner, device)(http.HandlerFunc(a.handleListDeviceUsers))).Methods(http.MethodGet)

	// Device catalog
	admin := a.mw.RequireAdmin()
	api.Handle("/v1/devices", admin(http.HandlerFunc(a.handleListDevices))).Methods(http.MethodGet)
	api.Handle("/v1/devices", admin(http.HandlerFunc(a.handleRegisterDevice))).Methods(http.MethodPost)
	api.Handle("/v1/devices/{deviceID}",
		a.mw.RequireRole(RoleViewer, device)(http.HandlerFunc(a.handleGetDevice))).Methods(http.MethodGet)

	// Plants
	api.HandleFunc("/v1/plants", a.handleListPlants).Methods(http.MethodGet)
	api.HandleFunc("/v1/plants", a.handleCreatePlant).Methods(http.MethodPost)
	api.HandleFunc("/v1/plants/{plantID}", a.handleGetPlant).Methods(http.MethodGet)
	api.HandleFunc("/v1/plants/{plantID}", a.handleUpdatePlant).Methods(http.MethodPut, http.MethodPatch)
	api.HandleFunc("/v1/plants/{plantID}", a.handleDeletePlant).Methods(http.MethodDelete)
	api.HandleFunc("/v1/plants/{plantID}/devices", a.handleListPlantDevices).Methods(http.MethodGet)
	api.HandleFunc("/v1/plants/{plantID}/devices/{deviceID}", a.handleAssignDeviceToPlant).Methods(http.MethodPost)
	api.HandleFunc("/v1/plants/{plantID}/devices/{deviceID}", a.handleRemoveDeviceFromPlant).Methods(http.MethodDelete)
	api.HandleFunc("/v1/plants/{plantID}/photo", a.handleUploadPhoto).Methods(http.MethodPost, http.MethodPut)
	api.HandleFunc("/v1/plants/{plantID}/photo", a.handleGetPhoto).Methods(http.MethodGet)
	api.HandleFunc("/v1/plants/{plantID}/photo", a.handleDeletePhoto).Methods(http.MethodDelete)

	// Audit
	api.Handle("/v1/audit", admin(http.HandlerFunc(a.handleAuditLog))).Methods(http.MethodGet)
}

// ============================================================================
// RESPONSE SHAPES
// ============================================================================

type plantSummary struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Location *string `json:"location,omitempty"`
}

type deviceListItem struct {
	ID        string        `json:"id"`
	UniqueID  string        `json:"unique_id"`
	Type      string        `json:"type"`
	Location  *string       `json:"location"`
	Enabled   bool          `json:"enabled"`
	PlantID   *string       `json:"plant_id"`
	Plant     *plantSummary `json:"plant"`
	Role      Role          `json:"role"`
	CreatedAt time.Time     `json:"created_at"`
}

type deviceListResponse struct {
	Devices []deviceListItem `json:"devices"`
}

func newDeviceListResponse(views []DeviceView) deviceListResponse {
	resp := deviceListResponse{Devices: make([]deviceListItem, 0, len(views))}
	for _, v := range views {
		item := deviceListItem{
			ID:        v.Device.ID,
			UniqueID:  v.Device.UniqueID,
			Type:      v.Device.Type,
			Location:  v.Device.Location,
			Enabled:   v.Device.Enabled,
			PlantID:   v.Device.PlantID,
			Role:      v.Role,
			CreatedAt: v.Device.CreatedAt,
		}
		if v.Plant != nil {
			item.Plant = &plantSummary{ID: v.Plant.ID, Name: v.Plant.Name, Location: v.Plant.Location}
		}
		resp.Devices = append(resp.Devices, item)
	}
	return resp
}

// ============================================================================
// USER DEVICES
// ============================================================================

func (a *API) handleListUserDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	filter := NewDeviceFilter().
		WithType(strings.TrimSpace(q.Get("type"))).
		WithName(strings.TrimSpace(q.Get("name"))).
		WithLocation(strings.TrimSpace(q.Get("location")))

	views, err := a.service.ListForUser(ctx, GetUserID(ctx), filter)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, newDeviceListResponse(views))
}

type associateRequest struct {
	MicrocontrollerID string  `json:"microcontroller_id"`
	UserID            *string `json:"user_id,omitempty"`
	PlantID           *string `json:"plant_id,omitempty"`
	Role              string  `json:"role,omitempty"`
}

func (a *API) handleAssociate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := MustGetIdentity(ctx)

	var req associateRequest
	if err := parseJSON(w, r, &req); err != nil {
		a.mw.WriteError(w, r, err)
		return
	}

	deviceID, err := canonicalUUID("microcontroller_id", req.MicrocontrollerID)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	plantID, err := optionalUUID("plant_id", req.PlantID)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	targetUserID := identity.UserID
	if req.UserID != nil && strings.TrimSpace(*req.UserID) != "" {
		targetUserID = strings.TrimSpace(*req.UserID)
	}

	role := NormalizeRole(req.Role)
	if !role.IsValid() {
		a.logger.WithFields(logrus.Fields{
			"request_id": GetRequestID(ctx),
			"role":       role,
			"device_id":  deviceID,
		}).Warn("storing unrecognized role; it grants no access")
	}

	assoc, err := a.service.AssociateAs(ctx, identity, targetUserID, deviceID, plantID, role)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusCreated, assoc)
}

type updateDeviceRequest struct {
	Location *string `json:"location"`
	PlantID  *string `json:"plant_id"`
	Type     *string `json:"type"`
}

func (a *API) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID, err := pathUUID(r, "deviceID")
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}

	var req updateDeviceRequest
	if err := parseJSON(w, r, &req); err != nil {
		a.mw.WriteError(w, r, err)
		return
	}

	update := DeviceUpdate{Location: req.Location, Type: req.Type}
	if req.PlantID != nil {
		if *req.PlantID == "" {
			update.PlantID = req.PlantID
		} else if update.PlantID, err = optionalUUID("plant_id", req.PlantID); err != nil {
			a.mw.WriteError(w, r, err)
			return
		}
	}

	device, err := a.service.UpdateDevice(ctx, deviceID, update)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, device)
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (a *API) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID, err := pathUUID(r, "deviceID")
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}

	var req setEnabledRequest
	if err := parseJSON(w, r, &req); err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	if req.Enabled == nil {
		a.mw.WriteError(w, r, NewError(ErrInvalidInput, "enabled is required"))
		return
	}

	device, err := a.service.SetEnabled(ctx, deviceID, *req.Enabled)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      device.ID,
		"enabled": device.Enabled,
	})
}

func (a *API) handleDeleteAssociation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID, err := pathUUID(r, "deviceID")
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = GetUserID(ctx)
	}

	removed, err := a.service.DeleteAssociation(ctx, userID, deviceID)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	if !removed {
		a.mw.WriteError(w, r, NewError(ErrNotFound, "association not found").WithUser(userID).WithDevice(deviceID))
		return
	}
	writeNoContent(w)
}

func (a *API) handleListDeviceUsers(w http.ResponseWriter, r *http.Request) {
	deviceID, err := pathUUID(r, "deviceID")
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	assocs, err := a.service.ListDeviceUsers(r.Context(), deviceID)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	if assocs == nil {
		assocs = []UserDevice{}
	}
	_ = writeJSON(w, http.StatusOK, map[string]interface{}{"users": assocs})
}

// ============================================================================
// DEVICE CATALOG
// ============================================================================

type registerDeviceRequest struct {
	UniqueID string  `json:"unique_id"`
	Type     string  `json:"type"`
	Location *string `json:"location"`
	PlantID  *string `json:"plant_id"`
	Enabled  *bool   `json:"enabled"`
}

func (a *API) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := parseJSON(w, r, &req); err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	plantID, err := optionalUUID("plant_id", req.PlantID)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}

	device, err := a.service.RegisterDevice(r.Context(), DeviceRegistration{
		UniqueID: req.UniqueID,
		Type:     req.Type,
		Location: req.Location,
		PlantID:  plantID,
		Enabled:  req.Enabled,
	})
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusCreated, device)
}

func (a *API) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := a.service.ListDevices(r.Context())
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	if devices == nil {
		devices = []Device{}
	}
	_ = writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

func (a *API) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, err := pathUUID(r, "deviceID")
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	device, err := a.service.GetDevice(r.Context(), deviceID)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, device)
}

// ============================================================================
// PLANTS
// ============================================================================

type createPlantRequest struct {
	Name     string  `json:"name"`
	Location *string `json:"location"`
}

func (a *API) handleListPlants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := MustGetIdentity(ctx)

	owner := identity.UserID
	if identity.IsAdmin() && r.URL.Query().Get("all") == "true" {
		owner = ""
	}

	plants, err := a.service.ListPlants(ctx, owner)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	if plants == nil {
		plants = []Plant{}
	}
	_ = writeJSON(w, http.StatusOK, map[string]interface{}{"plants": plants})
}

func (a *API) handleCreatePlant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createPlantRequest
	if err := parseJSON(w, r, &req); err != nil {
		a.mw.WriteError(w, r, err)
		return
	}

	plant, err := a.service.CreatePlant(ctx, GetUserID(ctx), req.Name, req.Location)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusCreated, plant)
}

func (a *API) handleGetPlant(w http.ResponseWriter, r *http.Request) {
	plantID, err := pathUUID(r, "plantID")
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	plant, err := a.service.GetPlant(r.Context(), plantID)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, plant)
}

type updatePlantRequest struct {
	Name     *string `json:"name"`
	Location *string `json:"location"`
}

func (a *API) handleUpdatePlant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plantID, err := pathUUID(r, "plantID")
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}

	var req updatePlantRequest
	if err := parseJSON(w, r, &req); err != nil {
		a.mw.WriteError(w, r, err)
		return
	}

	plant, err := a.service.UpdatePlant(ctx, MustGetIdentity(ctx), plantID, PlantUpdate{
		Name:     req.Name,
		Location: req.Location,
	})
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, plant)
}

func (a *API) handleDeletePlant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plantID, err := pathUUID(r, "plantID")
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}

	deleted, err := a.service.DeletePlant(ctx, MustGetIdentity(ctx), plantID)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	if !deleted {
		a.mw.WriteError(w, r, NewError(ErrNotFound, "plant not found").WithPlant(plantID))
		return
	}
	writeNoContent(w)
}

func (a *API) handleListPlantDevices(w http.ResponseWriter, r *http.Request) {
	plantID, err := pathUUID(r, "plantID")
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	devices, err := a.service.ListPlantDevices(r.Context(), plantID)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	if devices == nil {
		devices = []Device{}
	}
	_ = writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

func (a *API) plantAndDevice(r *http.Request) (string, string, error) {
	plantID, err := pathUUID(r, "plantID")
	if err != nil {
		return "", "", err
	}
	deviceID, err := pathUUID(r, "deviceID")
	if err != nil {
		return "", "", err
	}
	return plantID, deviceID, nil
}

func (a *API) handleAssignDeviceToPlant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plantID, deviceID, err := a.plantAndDevice(r)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	device, err := a.service.AssignDeviceToPlant(ctx, MustGetIdentity(ctx), plantID, deviceID)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, device)
}

func (a *API) handleRemoveDeviceFromPlant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plantID, deviceID, err := a.plantAndDevice(r)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	if _, err := a.service.RemoveDeviceFromPlant(ctx, MustGetIdentity(ctx), plantID, deviceID); err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	writeNoContent(w)
}

// ============================================================================
// PLANT PHOTOS
// ============================================================================

func (a *API) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plantID, err := pathUUID(r, "plantID")
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize+(1<<20))
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		a.mw.WriteError(w, r, NewError(ErrInvalidInput, fmt.Sprintf("invalid multipart form: %v", err)))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		a.mw.WriteError(w, r, NewError(ErrInvalidInput, "form field 'file' is required"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	plant, err := a.service.UploadPlantPhoto(ctx, MustGetIdentity(ctx), plantID, file, header.Size, contentType)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, plant)
}

func (a *API) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	plantID, err := pathUUID(r, "plantID")
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	body, contentType, err := a.service.GetPlantPhoto(r.Context(), plantID)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		a.logger.WithError(err).WithField("plant_id", plantID).Warn("photo stream interrupted")
	}
}

func (a *API) handleDeletePhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plantID, err := pathUUID(r, "plantID")
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	plant, err := a.service.DeletePlantPhoto(ctx, MustGetIdentity(ctx), plantID)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, plant)
}

// ============================================================================
// AUDIT & HEALTH
// ============================================================================

func (a *API) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceID := q.Get("microcontroller_id")
	if deviceID != "" {
		var err error
		if deviceID, err = canonicalUUID("microcontroller_id", deviceID); err != nil {
			a.mw.WriteError(w, r, err)
			return
		}
	}
	filter := NewAuditLogFilter().
		WithActor(q.Get("actor_id")).
		WithTargetUser(q.Get("user_id")).
		WithDevice(deviceID).
		WithAction(AuditAction(q.Get("action")))

	limit, offset := filter.Limit, 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			a.mw.WriteError(w, r, NewError(ErrInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			a.mw.WriteError(w, r, NewError(ErrInvalidInput, "offset must be a non-negative integer"))
			return
		}
		offset = n
	}
	filter = filter.WithPagination(limit, offset)

	var since, until time.Time
	for key, target := range map[string]*time.Time{"since": &since, "until": &until} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				a.mw.WriteError(w, r, NewError(ErrInvalidInput, key+" must be an RFC 3339 timestamp"))
				return
			}
			*target = t
		}
	}
	filter = filter.WithTimeRange(since, until)

	logs, err := a.service.GetAuditLog(r.Context(), filter)
	if err != nil {
		a.mw.WriteError(w, r, err)
		return
	}
	if logs == nil {
		logs = []AssociationAuditLog{}
	}
	_ = writeJSON(w, http.StatusOK, map[string]interface{}{"entries": logs})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := a.health.Health(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	_ = writeJSON(w, status, report)
}
