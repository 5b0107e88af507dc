package devicekit

import (
	"context"
	"time"
)

// Transaction executes fn within a store transaction with automatic commit/rollback.
// If fn returns an error, the transaction is rolled back. Otherwise, it's committed.
// Rollbacks caused by Conflict, NotFound, Forbidden or InvalidInput errors are
// recorded as rejected, not failed.
// fn must use the Repository it receives, not the Service's store.
//
// Example:
//
//	err := service.Transaction(ctx, func(ctx context.Context, repo devicekit.Repository) error {
//	    device, err := repo.GetDevice(ctx, deviceID)
//	    if err != nil {
//	        return err // This will cause a rollback
//	    }
//	    device.Enabled = false
//	    return repo.SaveDevice(ctx, device) // nil commits
//	})
func (s *Service) Transaction(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	start := time.Now()
	err := s.store.Transaction(ctx, fn)
	s.txMonitor.recordTransaction(time.Since(start), classifyTransaction(err))
	return err
}
