package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/org/keyproxy/internal/crypto"
	"github.com/org/keyproxy/internal/session"
	"github.com/org/keyproxy/internal/storage"
	"github.com/org/keyproxy/pkg/models"
)

// Rotator resolves a possibly-stale proxy id to the current live head,
// rotating opportunistically when a rotation is due. Implemented by
// rotation.Engine; an interface here keeps the dependency one-directional.
type Rotator interface {
	FindCurrentKey(ctx context.Context, proxyID string) (string, error)
}

// Service is the vault façade: provision, revoke, resolve, count. It composes
// the cipher layer, the record store, and the rotation chain, gated by the
// per-owner session manager.
type Service struct {
	store    storage.StorageBackend
	sessions *session.Manager
	chain    *Chain
	rotator  Rotator
}

// NewService creates a Service. The rotator is attached afterwards with
// SetRotator because the rotation engine is constructed on top of the same
// store and chain.
func NewService(store storage.StorageBackend, sessions *session.Manager) *Service {
	return &Service{
		store:    store,
		sessions: sessions,
		chain:    NewChain(store),
	}
}

// SetRotator wires the rotation engine used by Resolve.
func (s *Service) SetRotator(r Rotator) {
	s.rotator = r
}

// Chain exposes the rotation chain for the engine built on this service.
func (s *Service) Chain() *Chain {
	return s.chain
}

// Provision encrypts the real secret under the owner's session key and creates
// the credential record. The proxy id is caller-supplied; the vault enforces
// uniqueness and ownership but does not mint it. The plaintext secret is never
// returned after this call.
func (s *Service) Provision(ctx context.Context, ownerID, proxyID, secret, provider string, rotationInterval time.Duration, webhookURL string) error {
	if proxyID == "" || secret == "" || provider == "" {
		return errors.New("proxy id, secret, and provider are required")
	}
	if rotationInterval < 0 {
		return errors.New("rotation interval must not be negative")
	}

	ownerKey, err := s.sessions.OwnerKey(ownerID)
	if err != nil {
		return ErrUnauthorized
	}
	defer crypto.ZeroBytes(ownerKey)

	ciphertext, nonce, err := crypto.EncryptSecret([]byte(secret), ownerKey)
	if err != nil {
		return fmt.Errorf("encrypting credential: %w", err)
	}

	now := time.Now().UTC()
	rec := &models.CredentialRecord{
		ProxyID:          proxyID,
		OwnerID:          ownerID,
		Ciphertext:       ciphertext,
		Nonce:            nonce,
		Provider:         provider,
		RotationInterval: rotationInterval,
		LastRotatedAt:    now,
		WebhookURL:       webhookURL,
		CreatedAt:        now,
	}
	if err := s.store.CreateRecord(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return ErrConflict
		}
		return fmt.Errorf("storing credential record: %w", err)
	}
	return nil
}

// Revoke marks the chain head of proxyID revoked, which permanently ends
// resolution for every id in the chain. Requires the caller's unlocked owner
// to match the record's owner. Revoking an already-revoked chain succeeds
// silently.
func (s *Service) Revoke(ctx context.Context, ownerID, proxyID string) error {
	if !s.sessions.IsUnlocked(ownerID) {
		return ErrUnauthorized
	}
	rec, err := s.store.GetRecord(ctx, proxyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if rec.OwnerID != ownerID {
		return ErrForbidden
	}

	head, err := s.chain.Follow(ctx, proxyID)
	if err != nil {
		return err
	}
	headRec, err := s.store.GetRecord(ctx, head)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if headRec.Revoked {
		return nil
	}
	return s.store.MarkRevoked(ctx, head)
}

// Resolve walks the rotation chain from proxyID (rotating lazily when due),
// decrypts the head record with the calling owner's session key, and returns
// the tagged result. A stale-but-resolvable id yields ResolveRotated carrying
// the live id; a revoked head yields ResolveRevoked with no secret. This is
// the single join point that must never leak another owner's plaintext: the
// caller's key, not the record's owner column, is what opens the ciphertext,
// so presenting another owner's proxy id fails decryption exactly as an
// unknown id would.
func (s *Service) Resolve(ctx context.Context, ownerID, proxyID string) (*models.Resolution, error) {
	ownerKey, err := s.sessions.OwnerKey(ownerID)
	if err != nil {
		return nil, ErrUnauthorized
	}
	defer crypto.ZeroBytes(ownerKey)

	head, err := s.rotator.FindCurrentKey(ctx, proxyID)
	if err != nil {
		if errors.Is(err, ErrRevoked) {
			return &models.Resolution{Status: models.ResolveRevoked}, nil
		}
		return nil, err
	}

	rec, err := s.store.GetRecord(ctx, head)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	plaintext, err := crypto.DecryptSecret(rec.Ciphertext, rec.Nonce, ownerKey)
	if err != nil {
		return nil, err
	}

	res := &models.Resolution{
		Status:   models.ResolveOK,
		ProxyID:  head,
		Secret:   string(plaintext),
		Provider: rec.Provider,
	}
	if head != proxyID {
		res.Status = models.ResolveRotated
		res.NewProxyID = head
	}
	return res, nil
}

// KeyCount returns the number of live (non-revoked, non-superseded) records,
// for one owner or across all owners when ownerID is empty. Pure read.
func (s *Service) KeyCount(ctx context.Context, ownerID string) (int, error) {
	return s.store.CountRecords(ctx, ownerID)
}

// ListKeys returns metadata for the unlocked owner's records. Ciphertext and
// plaintext never appear in the listing.
func (s *Service) ListKeys(ctx context.Context, ownerID string) ([]models.RecordInfo, error) {
	if !s.sessions.IsUnlocked(ownerID) {
		return nil, ErrUnauthorized
	}
	records, err := s.store.ListOwnerRecords(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	infos := make([]models.RecordInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, rec.Info())
	}
	return infos, nil
}
