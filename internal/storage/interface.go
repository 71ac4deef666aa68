package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/keyproxy/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a resource that already exists.
var ErrAlreadyExists = errors.New("already exists")

// StorageBackend defines the persistence interface for KeyProxy.
type StorageBackend interface {
	// Credential records
	CreateRecord(ctx context.Context, rec *models.CredentialRecord) error
	GetRecord(ctx context.Context, proxyID string) (*models.CredentialRecord, error)
	MarkRevoked(ctx context.Context, proxyID string) error
	CountRecords(ctx context.Context, ownerID string) (int, error) // ownerID "" counts all owners
	ListOwnerRecords(ctx context.Context, ownerID string) ([]*models.CredentialRecord, error)
	// ListDueRecords returns non-revoked, non-superseded records whose
	// rotation interval has elapsed as of now. Records with interval 0 are
	// never returned.
	ListDueRecords(ctx context.Context, now time.Time) ([]*models.CredentialRecord, error)

	// Rotation chain
	GetLink(ctx context.Context, fromProxyID string) (*models.RotationLink, error)
	// SupersedeRecord is the rotation compare-and-swap: atomically mark the
	// record at oldProxyID superseded (only if its last_rotated_at still
	// equals expected and it is neither superseded nor revoked), insert the
	// replacement record, and insert the forwarding link. Returns false with
	// no error when the conditional check fails, meaning another caller won
	// the race.
	SupersedeRecord(ctx context.Context, oldProxyID string, expected time.Time, replacement *models.CredentialRecord, link *models.RotationLink) (bool, error)

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error

	// Lifecycle
	Close()
}
