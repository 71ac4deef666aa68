package models

// ResolveStatus tags the outcome of resolving a proxy credential.
type ResolveStatus string

const (
	// ResolveOK: the presented id is the live head; Secret is set.
	ResolveOK ResolveStatus = "ok"
	// ResolveRotated: the presented id is stale but chain-resolves to a live
	// head; Secret and NewProxyID are both set. This is a successful
	// resolution carrying a forwarding notice, not a failure.
	ResolveRotated ResolveStatus = "rotated"
	// ResolveRevoked: the chain head is revoked. Access has permanently ended.
	ResolveRevoked ResolveStatus = "revoked"
)

// Resolution is the result of VaultService.Resolve.
type Resolution struct {
	Status ResolveStatus
	// ProxyID is the live head of the chain (equals the presented id for
	// ResolveOK).
	ProxyID string
	// NewProxyID is set only for ResolveRotated.
	NewProxyID string
	// Secret is the decrypted upstream credential. Empty for ResolveRevoked.
	Secret string
	// Provider is the upstream provider tag of the resolved record.
	Provider string
}
