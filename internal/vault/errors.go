package vault

import (
	"errors"

	"github.com/org/keyproxy/internal/crypto"
)

var (
	// ErrUnauthorized: no active unlock session for the owning tenant.
	ErrUnauthorized = errors.New("unauthorized: vault locked")

	// ErrForbidden: a session is present but the caller's owner does not
	// match the record's owner.
	ErrForbidden = errors.New("forbidden: owner mismatch")

	// ErrNotFound: unknown proxy id, never rotated to.
	ErrNotFound = errors.New("proxy credential not found")

	// ErrRevoked: the chain resolves to a revoked head. Access has
	// permanently ended, distinct from never having existed.
	ErrRevoked = errors.New("proxy credential revoked")

	// ErrConflict: duplicate proxy id at provision time.
	ErrConflict = errors.New("proxy id already exists")

	// ErrChainTooLong: the rotation chain exceeded the hop cap. Guards
	// against corrupted data producing a cycle.
	ErrChainTooLong = errors.New("rotation chain too long")

	// ErrDecryption: owner key mismatch or tampered ciphertext. The HTTP
	// layer must surface this as not-found to avoid an oracle on key
	// correctness.
	ErrDecryption = crypto.ErrDecryption
)
