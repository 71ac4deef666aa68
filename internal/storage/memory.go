package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/org/keyproxy/pkg/models"
)

// MemoryBackend is an in-memory StorageBackend used in dev mode and tests.
// Nothing survives a process restart; durable deployments must use Postgres.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]*models.CredentialRecord
	links   map[string]*models.RotationLink // keyed by from_proxy_id
	audit   []*models.AuditEntry
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[string]*models.CredentialRecord),
		links:   make(map[string]*models.RotationLink),
	}
}

func (m *MemoryBackend) Close() {}

func (m *MemoryBackend) CreateRecord(ctx context.Context, rec *models.CredentialRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ProxyID]; ok {
		return ErrAlreadyExists
	}
	cp := *rec
	m.records[rec.ProxyID] = &cp
	return nil
}

func (m *MemoryBackend) GetRecord(ctx context.Context, proxyID string) (*models.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[proxyID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryBackend) MarkRevoked(ctx context.Context, proxyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[proxyID]
	if !ok {
		return ErrNotFound
	}
	rec.Revoked = true
	return nil
}

func (m *MemoryBackend) CountRecords(ctx context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, rec := range m.records {
		if rec.Revoked || rec.Superseded {
			continue
		}
		if ownerID == "" || rec.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryBackend) ListOwnerRecords(ctx context.Context, ownerID string) ([]*models.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []*models.CredentialRecord
	for _, rec := range m.records {
		if rec.OwnerID == ownerID {
			cp := *rec
			records = append(records, &cp)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (m *MemoryBackend) ListDueRecords(ctx context.Context, now time.Time) ([]*models.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*models.CredentialRecord
	for _, rec := range m.records {
		if rec.RotationDue(now) {
			cp := *rec
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].LastRotatedAt.Before(due[j].LastRotatedAt)
	})
	return due, nil
}

func (m *MemoryBackend) GetLink(ctx context.Context, fromProxyID string) (*models.RotationLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[fromProxyID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *link
	return &cp, nil
}

func (m *MemoryBackend) SupersedeRecord(ctx context.Context, oldProxyID string, expected time.Time, replacement *models.CredentialRecord, link *models.RotationLink) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.records[oldProxyID]
	if !ok {
		return false, ErrNotFound
	}
	if old.Superseded || old.Revoked || !old.LastRotatedAt.Equal(expected) {
		return false, nil
	}
	old.Superseded = true
	cp := *replacement
	m.records[replacement.ProxyID] = &cp
	lcp := *link
	m.links[link.FromProxyID] = &lcp
	return true, nil
}

func (m *MemoryBackend) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}
