package vault

import (
	"context"
	"errors"

	"github.com/org/keyproxy/internal/storage"
)

// maxChainHops caps rotation-chain traversal. Rotation never creates cycles
// (rotated_at is monotonic and each node gets one outgoing link inside the
// supersede transaction), but correctness must not depend on that being
// bug-free forever.
const maxChainHops = 64

// Chain walks the append-only forwarding structure linking superseded proxy
// ids to their replacements.
type Chain struct {
	store storage.StorageBackend
}

// NewChain creates a Chain over the given storage.
func NewChain(store storage.StorageBackend) *Chain {
	return &Chain{store: store}
}

// Follow walks forward links from proxyID until reaching a node with no
// outgoing link and returns that head. An id with no links is its own head;
// Follow does not check that a record exists for it.
func (c *Chain) Follow(ctx context.Context, proxyID string) (string, error) {
	current := proxyID
	for hop := 0; hop < maxChainHops; hop++ {
		link, err := c.store.GetLink(ctx, current)
		if errors.Is(err, storage.ErrNotFound) {
			return current, nil
		}
		if err != nil {
			return "", err
		}
		current = link.ToProxyID
	}
	return "", ErrChainTooLong
}
