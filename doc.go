// Package devicekit manages plants, devices and the role-based associations
// between users and devices.
//
// A user reaches a device only through an association that carries exactly
// one role. Roles form a total order:
//
//	viewer (0) < editor (1) < owner (2)
//
// Any other role string is stored as given, ranks 0 and meets no
// requirement, not even viewer. A caller holding the admin claim bypasses
// every association check.
//
// # Core Concepts
//
// Device: a microcontroller or sensor in the catalog, identified by a UUID
// and an immutable unique_id. A device may point at one plant.
//
// Plant: a catalog record that devices are assigned to. Deleting a plant
// clears the plant reference of its devices.
//
// Association: the (user, device, role) triple. There is at most one per
// user and device; associating twice yields ErrConflict.
//
// # Basic Usage
//
//	db, _ := dbkit.New(dbkit.Config{URL: databaseURL})
//	db.Migrate(ctx, devicekit.Migrations())
//
//	service := devicekit.NewService(devicekit.NewPostgresStore(db.Bun()),
//	    devicekit.WithLogger(logger),
//	)
//
//	// Associate a user with a device, assigning it to a plant in the same
//	// transaction
//	service.Associate(ctx, userID, deviceID, &plantID, devicekit.RoleOwner)
//
//	// Check permissions
//	ok, err := service.HasPermission(ctx, identity, deviceID, devicekit.RoleEditor)
//
//	// List a user's devices, filtered by type and plant name
//	views, err := service.ListForUser(ctx, userID,
//	    devicekit.NewDeviceFilter().WithType("esp32").WithName("tomates"))
//
// # HTTP API
//
//	resolver, _ := devicekit.NewJWTResolver(secret, "HS256")
//	mw := devicekit.NewMiddleware(service, resolver)
//	api := devicekit.NewAPI(service, mw, devicekit.NewHealthService(service, db))
//	http.ListenAndServe(":8080", api.Router())
//
// Errors map to status codes: ErrUnauthenticated 401, ErrForbidden 403 with
// the required role in the body, ErrNotFound 404, ErrConflict 409 and
// ErrInvalidInput 400.
//
// # Audit Log
//
// Every association created or removed is recorded in the same transaction
// with the actor, target user, device, role and request metadata.
package devicekit
