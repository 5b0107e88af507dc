package devicekit

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Middleware provides HTTP middleware for authentication and device
// permission checking.
type Middleware struct {
	service      *Service
	resolver     IdentityResolver
	logger       logrus.FieldLogger
	errorHandler func(http.ResponseWriter, *http.Request, error)
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// MiddlewareOption configures the Middleware.
type MiddlewareOption func(*Middleware)

// NewMiddleware creates a new Middleware instance.
//
// Example:
//
//	resolver, _ := devicekit.NewJWTResolver(secret, "HS256")
//	mw := devicekit.NewMiddleware(service, resolver,
//	    devicekit.WithMiddlewareLogger(logger),
//	)
func NewMiddleware(service *Service, resolver IdentityResolver, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		service:  service,
		resolver: resolver,
		logger:   service.logger,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devicekit",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "devicekit",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	for _, opt := range opts {
		opt(m)
	}
	if m.errorHandler == nil {
		m.errorHandler = m.defaultErrorHandler
	}

	return m
}

// WithErrorHandler sets a custom error handler for middleware.
func WithErrorHandler(fn func(http.ResponseWriter, *http.Request, error)) MiddlewareOption {
	return func(m *Middleware) {
		m.errorHandler = fn
	}
}

// WithMiddlewareLogger sets the logger for access logs and server errors.
func WithMiddlewareLogger(logger logrus.FieldLogger) MiddlewareOption {
	return func(m *Middleware) {
		m.logger = logger
	}
}

// Collectors returns the Prometheus collectors of the HTTP layer.
func (m *Middleware) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requests, m.latency}
}

// WriteError writes err as a JSON error response through the error handler.
func (m *Middleware) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	m.errorHandler(w, r, err)
}

func (m *Middleware) defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(err)
	if status == http.StatusInternalServerError {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"request_id": GetRequestID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).Error("request failed")
	}
	writeErrorResponse(w, status, body)
}

// DeviceExtractor extracts the target device ID from an HTTP request.
type DeviceExtractor func(*http.Request) (string, error)

// DeviceFromParam creates a DeviceExtractor that reads the device ID from a
// gorilla/mux path variable, falling back to the standard library pattern
// value. The ID must be a UUID.
//
// Example:
//
//	// For route /api/user/devices/{deviceID}
//	mw.RequireRole(devicekit.RoleEditor, devicekit.DeviceFromParam("deviceID"))
func DeviceFromParam(paramName string) DeviceExtractor {
	return func(r *http.Request) (string, error) {
		deviceID := mux.Vars(r)[paramName]
		if deviceID == "" {
			deviceID = r.PathValue(paramName)
		}
		if deviceID == "" {
			return "", NewError(ErrInvalidInput, "device ID not found in request")
		}
		return canonicalUUID(paramName, deviceID)
	}
}

// DeviceFromQuery creates a DeviceExtractor that reads the device ID from a
// query parameter.
func DeviceFromQuery(queryParam string) DeviceExtractor {
	return func(r *http.Request) (string, error) {
		deviceID := r.URL.Query().Get(queryParam)
		if deviceID == "" {
			return "", NewError(ErrInvalidInput, "device ID not found in query")
		}
		return canonicalUUID(queryParam, deviceID)
	}
}

// Authenticate creates middleware that resolves the bearer token into an
// Identity and stores it, with a Checker, in the request context.
// Requests without a valid token are rejected with 401.
func (m *Middleware) Authenticate() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, err := bearerToken(r.Header.Get("Authorization"))
			if err != nil {
				m.errorHandler(w, r, NewError(ErrUnauthenticated, err.Error()))
				return
			}

			identity, err := m.resolver.Resolve(ctx, token)
			if err != nil {
				if !IsUnauthenticated(err) {
					err = NewError(ErrUnauthenticated, "invalid token").WithCause(err)
				}
				m.errorHandler(w, r, err)
				return
			}

			ctx = WithIdentity(ctx, identity)
			ctx = WithChecker(ctx, m.service.CheckerFor(identity))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole creates middleware that requires at least minRole on the
// device named by the request. Must run after Authenticate.
//
// Example:
//
//	router.Handle("/api/user/devices/{deviceID}",
//	    mw.RequireRole(devicekit.RoleOwner, devicekit.DeviceFromParam("deviceID"))(handler))
func (m *Middleware) RequireRole(minRole Role, extractor DeviceExtractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, ok := GetIdentity(ctx)
			if !ok {
				m.errorHandler(w, r, NewError(ErrUnauthenticated, "no identity in request"))
				return
			}

			deviceID, err := extractor(r)
			if err != nil {
				m.errorHandler(w, r, err)
				return
			}

			if err := m.service.Authorize(ctx, identity, deviceID, minRole); err != nil {
				m.errorHandler(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin creates middleware that requires the admin claim.
func (m *Middleware) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := GetIdentity(r.Context())
			if !ok {
				m.errorHandler(w, r, NewError(ErrUnauthenticated, "no identity in request"))
				return
			}
			if !identity.IsAdmin() {
				m.errorHandler(w, r, NewError(ErrForbidden, "requires admin").WithUser(identity.UserID))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// InjectAuditContext creates middleware that extracts audit information from the request
// and adds it to the context for use in association operations.
//
// Example:
//
//	router.Use(mw.InjectAuditContext())
func (m *Middleware) InjectAuditContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithAuditContext(r.Context(), AuditContext{
				IPAddress: clientIP(r),
				UserAgent: r.UserAgent(),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RequestID creates middleware that assigns each request an ID, reusing
// the client's X-Request-ID when present.
func (m *Middleware) RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// AccessLog creates middleware that logs each request and records it in
// the HTTP metrics.
func (m *Middleware) AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			route := routeTemplate(r)
			m.requests.WithLabelValues(route, r.Method, strconv.Itoa(rw.statusCode)).Inc()
			m.latency.WithLabelValues(route, r.Method).Observe(duration.Seconds())

			m.logger.WithFields(logrus.Fields{
				"request_id": GetRequestID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     rw.statusCode,
				"duration":   duration,
			}).Info("request")
		})
	}
}

// routeTemplate returns the matched mux route template so that metric
// labels do not carry IDs.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Recover creates middleware that turns panics into 500 responses.
func (m *Middleware) Recover() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					m.logger.WithFields(logrus.Fields{
						"request_id": GetRequestID(r.Context()),
						"stack":      string(debug.Stack()),
					}).Error("panic serving request")
					m.errorHandler(w, r, fmt.Errorf("panic: %v", rec))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
