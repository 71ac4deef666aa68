package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/org/keyproxy/internal/storage"
	"github.com/org/keyproxy/pkg/models"
)

// Logger writes structured audit entries.
type Logger struct {
	store storage.StorageBackend
}

// NewLogger creates an audit Logger.
func NewLogger(store storage.StorageBackend) *Logger {
	return &Logger{store: store}
}

// LogRequest records an API request to the audit log. Key material and secret
// values must NEVER be passed here, only metadata.
func (l *Logger) LogRequest(ctx context.Context, entry *models.AuditEntry) {
	entry.Timestamp = time.Now().UTC()
	// Fire and forget; audit failures should not break request flow.
	_ = l.store.WriteAuditEntry(ctx, entry)
}

// HashOwner returns the SHA-256 hex hash of an owner id, so the audit trail
// never stores raw tenant identifiers.
func HashOwner(ownerID string) string {
	if ownerID == "" {
		return ""
	}
	h := sha256.Sum256([]byte(ownerID))
	return hex.EncodeToString(h[:])
}
