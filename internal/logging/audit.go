package logging

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuditEventType classifies an audit event.
type AuditEventType string

const (
	AuditToolInvoke     AuditEventType = "tool_invoke"
	AuditToolDenied     AuditEventType = "tool_denied"
	AuditQueryExecute   AuditEventType = "query_execute"
	AuditQueryRejected  AuditEventType = "query_rejected"
	AuditAccessDenied   AuditEventType = "access_denied"
	AuditApprovalNeeded AuditEventType = "approval_needed"
)

var (
	auditMu     sync.RWMutex
	auditLogger *zap.Logger
)

// Audit returns the audit logger. Audit entries are emitted at INFO level
// regardless of subsystem filtering so the trail stays complete.
func Audit() *zap.Logger {
	auditMu.RLock()
	if auditLogger != nil {
		defer auditMu.RUnlock()
		return auditLogger
	}
	auditMu.RUnlock()

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditLogger == nil {
		auditLogger = root.Named("audit")
	}
	return auditLogger
}

// AuditEvent emits one structured audit entry.
func AuditEvent(event AuditEventType, fields ...zap.Field) {
	all := make([]zap.Field, 0, len(fields)+2)
	all = append(all,
		zap.String("event", string(event)),
		zap.Time("at", time.Now().UTC()),
	)
	all = append(all, fields...)
	Audit().Info("audit", all...)
}

// ResetAuditForTests clears the cached audit logger.
func ResetAuditForTests() {
	auditMu.Lock()
	auditLogger = nil
	auditMu.Unlock()
}
