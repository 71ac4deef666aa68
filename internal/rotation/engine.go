package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/org/keyproxy/internal/storage"
	"github.com/org/keyproxy/internal/vault"
	"github.com/org/keyproxy/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var rotationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "keyproxy_rotations_total",
	Help: "Total number of credential rotations performed.",
}, []string{"trigger"})

func init() {
	prometheus.MustRegister(rotationsTotal)
}

// Engine implements the rotation policy: opportunistic rotation on access and
// the scheduled batch sweep. Rotation copies the ciphertext to a fresh record
// under a newly minted proxy id and links old to new; it never needs to
// decrypt, so it works whether or not the owner is currently unlocked.
type Engine struct {
	store    storage.StorageBackend
	chain    *vault.Chain
	notifier Notifier

	// now is injectable for tests.
	now func() time.Time
}

// NewEngine creates an Engine over the given store and chain. notifier may be
// nil to disable webhook delivery.
func NewEngine(store storage.StorageBackend, chain *vault.Chain, notifier Notifier) *Engine {
	return &Engine{
		store:    store,
		chain:    chain,
		notifier: notifier,
		now:      time.Now,
	}
}

// CheckAndRotate rotates proxyID if its interval has elapsed, returning the
// new proxy id, or "" when no rotation was due. Concurrent callers hitting the
// same expiry race on the storage-level compare-and-swap; exactly one wins and
// the losers return the winner's new id.
func (e *Engine) CheckAndRotate(ctx context.Context, proxyID string) (string, error) {
	rec, err := e.store.GetRecord(ctx, proxyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", vault.ErrNotFound
		}
		return "", err
	}
	return e.rotateIfDue(ctx, rec, "opportunistic")
}

func (e *Engine) rotateIfDue(ctx context.Context, rec *models.CredentialRecord, trigger string) (string, error) {
	now := e.now().UTC()
	if !rec.RotationDue(now) {
		return "", nil
	}

	newID := "pk_" + uuid.NewString()
	replacement := &models.CredentialRecord{
		ProxyID:          newID,
		OwnerID:          rec.OwnerID,
		Ciphertext:       rec.Ciphertext,
		Nonce:            rec.Nonce,
		Provider:         rec.Provider,
		RotationInterval: rec.RotationInterval,
		LastRotatedAt:    now,
		WebhookURL:       rec.WebhookURL,
		CreatedAt:        now,
	}
	link := &models.RotationLink{
		FromProxyID: rec.ProxyID,
		ToProxyID:   newID,
		RotatedAt:   now,
	}

	won, err := e.store.SupersedeRecord(ctx, rec.ProxyID, rec.LastRotatedAt, replacement, link)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", vault.ErrNotFound
		}
		return "", fmt.Errorf("superseding %s: %w", rec.ProxyID, err)
	}
	if !won {
		// Lost the race: a concurrent caller rotated (or revoked) first.
		// Return the winner's id if a link appeared, otherwise nothing was due
		// after all.
		winner, err := e.store.GetLink(ctx, rec.ProxyID)
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return winner.ToProxyID, nil
	}

	rotationsTotal.WithLabelValues(trigger).Inc()
	log.Info().
		Str("provider", rec.Provider).
		Str("trigger", trigger).
		Msg("credential rotated")

	if rec.WebhookURL != "" && e.notifier != nil {
		// Best effort: delivery failure never rolls back the rotation.
		e.notifier.NotifyRotated(ctx, rec.WebhookURL, RotationEvent{
			OldProxyID: rec.ProxyID,
			NewProxyID: newID,
			Provider:   rec.Provider,
			RotatedAt:  now,
		})
	}
	return newID, nil
}

// RotateExpiredKeys sweeps all due records across all owners and rotates each.
// Intended to be driven by a scheduler so a credential rotates even if nobody
// resolves it. One record's failure does not abort the batch, and the sweep
// stops cleanly on context cancellation; partially swept state is safe because
// already-rotated records stay rotated.
func (e *Engine) RotateExpiredKeys(ctx context.Context) (int, error) {
	due, err := e.store.ListDueRecords(ctx, e.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("listing due records: %w", err)
	}

	rotated := 0
	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return rotated, err
		}
		newID, err := e.rotateIfDue(ctx, rec, "sweep")
		if err != nil {
			log.Error().Err(err).Msg("sweep rotation failed, continuing")
			continue
		}
		if newID != "" {
			rotated++
		}
	}
	return rotated, nil
}

// GetRotationInfo returns the record's interval and time until its next
// rotation. Pure read, no mutation.
func (e *Engine) GetRotationInfo(ctx context.Context, proxyID string) (*models.RotationInfo, error) {
	rec, err := e.store.GetRecord(ctx, proxyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, vault.ErrNotFound
		}
		return nil, err
	}
	info := &models.RotationInfo{
		IntervalSeconds: int64(rec.RotationInterval.Seconds()),
	}
	if rec.RotationInterval > 0 {
		until := rec.LastRotatedAt.Add(rec.RotationInterval).Sub(e.now().UTC())
		if until > 0 {
			info.SecondsUntilRotation = int64(until.Seconds())
		}
	}
	return info, nil
}

// FindCurrentKey resolves any historical proxy id to the final live id: it
// follows the chain to its head and applies the rotation check once more
// there, since "current" may itself have just expired. Returns ErrNotFound for
// unknown ids and ErrRevoked when the resolved head is revoked.
func (e *Engine) FindCurrentKey(ctx context.Context, proxyID string) (string, error) {
	current := proxyID
	for {
		head, err := e.chain.Follow(ctx, current)
		if err != nil {
			return "", err
		}

		rec, err := e.store.GetRecord(ctx, head)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", vault.ErrNotFound
			}
			return "", err
		}
		if rec.Revoked {
			return "", vault.ErrRevoked
		}
		if rec.Superseded {
			// A concurrent rotation landed between Follow and GetRecord; the
			// head has a fresh outgoing link now, so walk again from there.
			current = head
			continue
		}

		newID, err := e.rotateIfDue(ctx, rec, "opportunistic")
		if err != nil {
			return "", err
		}
		if newID != "" {
			return newID, nil
		}
		return head, nil
	}
}
