package models

import "time"

// CredentialRecord is one provisioned upstream credential. The real secret is
// stored only as AEAD ciphertext; decryption requires the owner's unlock key,
// which the server never persists.
type CredentialRecord struct {
	ProxyID           string
	OwnerID           string
	Ciphertext        []byte
	Nonce             []byte
	Provider          string
	RotationInterval  time.Duration // 0 = never rotate
	LastRotatedAt     time.Time
	WebhookURL        string
	Superseded        bool // replaced by a newer record via a RotationLink
	Revoked           bool
	CreatedAt         time.Time
}

// RotationDue reports whether the record's rotation interval has elapsed.
// Superseded and revoked records never rotate again.
func (r *CredentialRecord) RotationDue(now time.Time) bool {
	if r.RotationInterval <= 0 || r.Superseded || r.Revoked {
		return false
	}
	return now.Sub(r.LastRotatedAt) >= r.RotationInterval
}

// RotationLink is one forwarding edge in a rotation chain: the record at
// FromProxyID was superseded by the record at ToProxyID. Each node has at most
// one outgoing link, so chains never branch.
type RotationLink struct {
	FromProxyID string
	ToProxyID   string
	RotatedAt   time.Time
}

// RecordInfo is the metadata view of a record returned by listing endpoints.
// It never carries ciphertext or plaintext.
type RecordInfo struct {
	ProxyID          string        `json:"proxy_id"`
	Provider         string        `json:"provider"`
	RotationInterval time.Duration `json:"rotation_interval_s"`
	LastRotatedAt    time.Time     `json:"last_rotated_at"`
	Superseded       bool          `json:"superseded"`
	Revoked          bool          `json:"revoked"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Info returns the metadata view of the record.
func (r *CredentialRecord) Info() RecordInfo {
	return RecordInfo{
		ProxyID:          r.ProxyID,
		Provider:         r.Provider,
		RotationInterval: r.RotationInterval,
		LastRotatedAt:    r.LastRotatedAt,
		Superseded:       r.Superseded,
		Revoked:          r.Revoked,
		CreatedAt:        r.CreatedAt,
	}
}

// RotationInfo describes a record's rotation schedule for display purposes.
type RotationInfo struct {
	IntervalSeconds      int64 `json:"interval_s"`
	SecondsUntilRotation int64 `json:"seconds_until_rotation"`
}

// AuditEntry records one API request. Metadata only, never key material.
type AuditEntry struct {
	ID             int64
	RequestID      string
	Timestamp      time.Time
	OwnerHash      string
	Operation      string
	Path           string
	Status         string
	ResponseCode   int
	ResponseTimeMs int64
	ClientIP       string
}
