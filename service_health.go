package devicekit

import (
	"context"

	"github.com/fernandezvara/dbkit"
)

// HealthReport is the state of the service and its dependencies.
type HealthReport struct {
	Healthy      bool               `json:"healthy"`
	Database     dbkit.HealthStatus `json:"database"`
	Photos       string             `json:"photos,omitempty"`
	Transactions TransactionMetrics `json:"transactions"`
}

// photoHealthChecker is implemented by photo stores that can check their backend.
type photoHealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthService reports the health of the database, the photo store and
// the transaction monitor.
type HealthService struct {
	service *Service
	db      *dbkit.DBKit // nil when running on the memory store
}

// NewHealthService creates a health reporter. db may be nil.
func NewHealthService(service *Service, db *dbkit.DBKit) *HealthService {
	return &HealthService{service: service, db: db}
}

// Health performs a health check of every dependency.
func (hs *HealthService) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Healthy:      true,
		Transactions: hs.service.GetTransactionMetrics(),
	}

	if hs.db != nil {
		report.Database = hs.db.Health(ctx)
	} else {
		report.Database = dbkit.HealthStatus{Healthy: true}
	}
	if !report.Database.Healthy {
		report.Healthy = false
	}

	if checker, ok := hs.service.photos.(photoHealthChecker); ok {
		if err := checker.HealthCheck(ctx); err != nil {
			report.Photos = err.Error()
			report.Healthy = false
		} else {
			report.Photos = "ok"
		}
	}

	if !hs.service.IsTransactionHealthy() {
		report.Healthy = false
	}

	return report
}

// IsHealthy reports whether the database is reachable.
func (hs *HealthService) IsHealthy(ctx context.Context) bool {
	if hs.db == nil {
		return true
	}
	return hs.db.IsHealthy(ctx)
}
