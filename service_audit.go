package devicekit

import "context"

// ============================================================================
// AUDIT LOG
// ============================================================================

// recordAudit writes an audit entry for assoc through repo, so the entry
// commits or rolls back with the change it describes.
func (s *Service) recordAudit(ctx context.Context, repo Repository, action AuditAction, assoc *UserDevice) error {
	audit := GetAuditContext(ctx)
	entry := &AuditEntry{
		ActorID:      audit.ActorID,
		Action:       action,
		TargetUserID: assoc.UserID,
		DeviceID:     assoc.DeviceID,
		Role:         assoc.Role,
		IPAddress:    audit.IPAddress,
		UserAgent:    audit.UserAgent,
		RequestID:    audit.RequestID,
	}
	if entry.ActorID == "" {
		entry.ActorID = systemActor
	}
	return repo.InsertAudit(ctx, entry.ToModel())
}

// systemActor is recorded when a change is made outside an authenticated request.
const systemActor = "system"

// GetAuditLog retrieves association audit entries, newest first.
//
// Example:
//
//	logs, err := service.GetAuditLog(ctx, devicekit.NewAuditLogFilter().WithDevice(deviceID))
func (s *Service) GetAuditLog(ctx context.Context, filter AuditLogFilter) ([]AssociationAuditLog, error) {
	return s.store.ListAudit(ctx, filter)
}
