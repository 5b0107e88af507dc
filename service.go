package devicekit

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
)

// Service provides device association, catalog and permission operations.
// It holds no request state; the store handle is injected and every
// mutating operation runs in one store transaction.
//
// Error Handling:
// Operations return errors that match the package sentinels with errors.Is:
//
//	_, err := service.Associate(ctx, userID, deviceID, nil, devicekit.RoleOwner)
//	switch {
//	case devicekit.IsConflict(err):
//	    // association already exists
//	case devicekit.IsNotFound(err):
//	    // device or plant missing
//	case err != nil:
//	    // store failure
//	}
type Service struct {
	store     Store
	photos    PhotoStore
	logger    logrus.FieldLogger
	txMonitor *transactionMonitor
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithLogger sets the logger used for operational messages.
func WithLogger(logger logrus.FieldLogger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithPhotoStore sets the object storage for plant photos.
func WithPhotoStore(photos PhotoStore) ServiceOption {
	return func(s *Service) {
		s.photos = photos
	}
}

// NewService creates a new devicekit service over a store.
//
// Example:
//
//	db, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	service := devicekit.NewService(devicekit.NewPostgresStore(db.Bun()),
//	    devicekit.WithLogger(logger),
//	)
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		txMonitor: newTransactionMonitor(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		s.logger = discard
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// log returns a logger carrying the request ID from ctx.
func (s *Service) log(ctx context.Context) logrus.FieldLogger {
	if id := GetRequestID(ctx); id != "" {
		return s.logger.WithField("request_id", id)
	}
	return s.logger
}
