// Command devicekit-seed loads demo plants, devices and associations into a
// fresh database and prints bearer tokens for the demo users.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/sirupsen/logrus"

	"github.com/fernandezvara/devicekit"
)

// demoUser is a user the seed associates devices with.
type demoUser struct {
	ID     string
	Claims []string
}

var (
	grower  = demoUser{ID: "grower-1"}
	helper  = demoUser{ID: "helper-1"}
	curator = demoUser{ID: "admin-1", Claims: []string{devicekit.ClaimAdmin}}
)

// seedApp holds the service the scenarios run against.
type seedApp struct {
	service *devicekit.Service
	logger  logrus.FieldLogger
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	tokenTTL := flag.Duration("token-ttl", 0, "Lifetime of the printed tokens (defaults to auth.token_ttl)")
	helperRole := flag.String("helper-role", string(devicekit.RoleViewer), "Role granted to the helper user on the shared device")
	flag.Parse()

	cfg, err := devicekit.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devicekit-seed: %v\n", err)
		os.Exit(1)
	}
	logger, err := devicekit.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devicekit-seed: %v\n", err)
		os.Exit(1)
	}

	role, err := devicekit.ParseRole(*helperRole)
	if err != nil {
		logger.WithError(err).Fatal("invalid -helper-role")
	}
	ttl := cfg.Auth.TokenTTL
	if *tokenTTL > 0 {
		ttl = *tokenTTL
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to open store")
	}
	defer closeStore()

	app := &seedApp{
		service: devicekit.NewService(store, devicekit.WithLogger(logger)),
		logger:  logger,
	}
	if err := app.run(ctx, role); err != nil {
		logger.WithError(err).Fatal("seed failed")
	}

	resolver, err := devicekit.NewJWTResolver(cfg.Auth.JWTSecret, cfg.Auth.Algorithm)
	if err != nil {
		logger.WithError(err).Fatal("failed to create token issuer")
	}
	for _, u := range []demoUser{grower, helper, curator} {
		token, err := resolver.IssueToken(devicekit.Identity{UserID: u.ID, Claims: u.Claims}, ttl)
		if err != nil {
			logger.WithError(err).Fatal("failed to issue token")
		}
		fmt.Printf("%s\t%s\n", u.ID, token)
	}
}

func openStore(ctx context.Context, cfg *devicekit.Config) (devicekit.Store, func(), error) {
	if cfg.Database.Backend == devicekit.BackendMemory {
		return devicekit.NewMemoryStore(), func() {}, nil
	}

	db, err := dbkit.New(dbkit.Config{URL: cfg.Database.URL})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if _, err := db.Migrate(ctx, devicekit.Migrations()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migration failed: %w", err)
	}
	return devicekit.NewPostgresStore(db.Bun()), func() { db.Close() }, nil
}

// run creates the demo data. It is not idempotent: a second run stops at
// the first device whose unique_id already exists.
func (a *seedApp) run(ctx context.Context, helperRole devicekit.Role) error {
	a.logger.Info("=== Plants ===")
	greenhouse := "Invernadero 1"
	tomatoes, err := a.service.CreatePlant(ctx, grower.ID, "Tomates Cherry", &greenhouse)
	if err != nil {
		return err
	}
	lettuce, err := a.service.CreatePlant(ctx, grower.ID, "Lechugas Hidro", nil)
	if err != nil {
		return err
	}
	a.logger.WithFields(logrus.Fields{"tomatoes": tomatoes.ID, "lettuce": lettuce.ID}).Info("plants created")

	a.logger.Info("=== Devices ===")
	bench := "Mesa A"
	devices := []devicekit.DeviceRegistration{
		{UniqueID: "ESP32-A1B2C3", Type: "ESP32", Location: &bench},
		{UniqueID: "ESP32-D4E5F6", Type: "ESP32"},
		{UniqueID: "ESP8266-778899", Type: "ESP8266"},
	}
	registered := make([]*devicekit.Device, 0, len(devices))
	for _, reg := range devices {
		device, err := a.service.RegisterDevice(ctx, reg)
		if err != nil {
			return fmt.Errorf("register %s: %w", reg.UniqueID, err)
		}
		registered = append(registered, device)
	}

	a.logger.Info("=== Associations ===")
	steps := []struct {
		user    string
		device  *devicekit.Device
		plantID *string
		role    devicekit.Role
	}{
		{grower.ID, registered[0], &tomatoes.ID, devicekit.RoleOwner},
		{grower.ID, registered[1], &lettuce.ID, devicekit.RoleOwner},
		{grower.ID, registered[2], nil, devicekit.RoleEditor},
		{helper.ID, registered[0], nil, helperRole},
	}
	for _, step := range steps {
		if _, err := a.service.Associate(ctx, step.user, step.device.ID, step.plantID, step.role); err != nil {
			return fmt.Errorf("associate %s with %s: %w", step.user, step.device.UniqueID, err)
		}
	}

	views, err := a.service.ListForUser(ctx, grower.ID, devicekit.DeviceFilter{})
	if err != nil {
		return err
	}
	for _, v := range views {
		entry := a.logger.WithFields(logrus.Fields{
			"device": v.Device.UniqueID,
			"role":   v.Role,
		})
		if v.Plant != nil {
			entry = entry.WithField("plant", v.Plant.Name)
		}
		entry.Info("grower device")
	}

	a.logger.WithField("at", time.Now().UTC().Format(time.RFC3339)).Info("seed complete")
	return nil
}
