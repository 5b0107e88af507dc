// Command devicekit runs the plant and device association API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fernandezvara/dbkit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fernandezvara/devicekit"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	flag.Parse()

	cfg, err := devicekit.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devicekit: %v\n", err)
		os.Exit(1)
	}

	logger, err := devicekit.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devicekit: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server failed")
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *devicekit.Config, logger *logrus.Logger) error {
	store, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	opts := []devicekit.ServiceOption{devicekit.WithLogger(logger)}
	switch cfg.Photos.Backend {
	case devicekit.BackendS3:
		photos, err := devicekit.NewS3PhotoStore(ctx, cfg.Photos)
		if err != nil {
			return fmt.Errorf("failed to initialize photo storage: %w", err)
		}
		opts = append(opts, devicekit.WithPhotoStore(photos))
	case devicekit.BackendMemory:
		opts = append(opts, devicekit.WithPhotoStore(devicekit.NewMemoryPhotoStore()))
	default:
		logger.Warn("photo storage disabled")
	}
	service := devicekit.NewService(store, opts...)

	resolver, err := devicekit.NewJWTResolver(cfg.Auth.JWTSecret, cfg.Auth.Algorithm)
	if err != nil {
		return err
	}
	mw := devicekit.NewMiddleware(service, resolver, devicekit.WithMiddlewareLogger(logger))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(service.Collectors()...)
	registry.MustRegister(mw.Collectors()...)

	api := devicekit.NewAPI(service, mw, devicekit.NewHealthService(service, db))
	router := api.Router()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("address", server.Addr).Info("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStore returns the configured store. db is nil for the memory backend.
func openStore(ctx context.Context, cfg *devicekit.Config, logger *logrus.Logger) (devicekit.Store, *dbkit.DBKit, error) {
	if cfg.Database.Backend == devicekit.BackendMemory {
		logger.Warn("using in-memory store; data is lost on exit")
		return devicekit.NewMemoryStore(), nil, nil
	}

	db, err := dbkit.New(dbkit.Config{URL: cfg.Database.URL})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := devicekit.NewPoolService(db, logger).ConfigureConnectionPool(cfg.Database.Pool); err != nil {
		db.Close()
		return nil, nil, err
	}

	if cfg.Database.AutoMigrate {
		result, err := db.Migrate(ctx, devicekit.Migrations())
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migration failed: %w", err)
		}
		logger.WithField("applied", len(result.Applied)).Info("migrations complete")
	}

	return devicekit.NewPostgresStore(db.Bun()), db, nil
}
