package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/keyproxy/pkg/models"
)

// PostgresBackend is a StorageBackend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// --- Credential records ---

const recordColumns = `proxy_id, owner_id, ciphertext, nonce, provider,
	rotation_interval_s, last_rotated_at, webhook_url, superseded, revoked, created_at`

func (p *PostgresBackend) CreateRecord(ctx context.Context, rec *models.CredentialRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO credential_records
		 (proxy_id, owner_id, ciphertext, nonce, provider, rotation_interval_s,
		  last_rotated_at, webhook_url, superseded, revoked, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ProxyID, rec.OwnerID, rec.Ciphertext, rec.Nonce, rec.Provider,
		int64(rec.RotationInterval.Seconds()), rec.LastRotatedAt, rec.WebhookURL,
		rec.Superseded, rec.Revoked, rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting credential record: %w", err)
	}
	return nil
}

func (p *PostgresBackend) GetRecord(ctx context.Context, proxyID string) (*models.CredentialRecord, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM credential_records WHERE proxy_id = $1`,
		proxyID,
	)
	return scanRecord(row)
}

func scanRecord(row pgx.Row) (*models.CredentialRecord, error) {
	var rec models.CredentialRecord
	var intervalSec int64
	err := row.Scan(&rec.ProxyID, &rec.OwnerID, &rec.Ciphertext, &rec.Nonce,
		&rec.Provider, &intervalSec, &rec.LastRotatedAt, &rec.WebhookURL,
		&rec.Superseded, &rec.Revoked, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.RotationInterval = time.Duration(intervalSec) * time.Second
	return &rec, nil
}

func (p *PostgresBackend) MarkRevoked(ctx context.Context, proxyID string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE credential_records SET revoked = TRUE WHERE proxy_id = $1`,
		proxyID,
	)
	if err != nil {
		return fmt.Errorf("marking record revoked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) CountRecords(ctx context.Context, ownerID string) (int, error) {
	var count int
	var err error
	if ownerID == "" {
		err = p.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM credential_records WHERE NOT revoked AND NOT superseded`,
		).Scan(&count)
	} else {
		err = p.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM credential_records WHERE owner_id = $1 AND NOT revoked AND NOT superseded`,
			ownerID,
		).Scan(&count)
	}
	return count, err
}

func (p *PostgresBackend) ListOwnerRecords(ctx context.Context, ownerID string) ([]*models.CredentialRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM credential_records
		 WHERE owner_id = $1 ORDER BY created_at`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (p *PostgresBackend) ListDueRecords(ctx context.Context, now time.Time) ([]*models.CredentialRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM credential_records
		 WHERE NOT revoked AND NOT superseded
		   AND rotation_interval_s > 0
		   AND last_rotated_at + rotation_interval_s * INTERVAL '1 second' <= $1
		 ORDER BY last_rotated_at`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]*models.CredentialRecord, error) {
	var records []*models.CredentialRecord
	for rows.Next() {
		var rec models.CredentialRecord
		var intervalSec int64
		if err := rows.Scan(&rec.ProxyID, &rec.OwnerID, &rec.Ciphertext, &rec.Nonce,
			&rec.Provider, &intervalSec, &rec.LastRotatedAt, &rec.WebhookURL,
			&rec.Superseded, &rec.Revoked, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.RotationInterval = time.Duration(intervalSec) * time.Second
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// --- Rotation chain ---

func (p *PostgresBackend) GetLink(ctx context.Context, fromProxyID string) (*models.RotationLink, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT from_proxy_id, to_proxy_id, rotated_at FROM rotation_links WHERE from_proxy_id = $1`,
		fromProxyID,
	)
	var link models.RotationLink
	err := row.Scan(&link.FromProxyID, &link.ToProxyID, &link.RotatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (p *PostgresBackend) SupersedeRecord(ctx context.Context, oldProxyID string, expected time.Time, replacement *models.CredentialRecord, link *models.RotationLink) (bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Conditional write: only the caller whose view of last_rotated_at is
	// still current may supersede. Everyone else sees zero rows affected.
	tag, err := tx.Exec(ctx,
		`UPDATE credential_records SET superseded = TRUE
		 WHERE proxy_id = $1 AND last_rotated_at = $2
		   AND NOT superseded AND NOT revoked`,
		oldProxyID, expected,
	)
	if err != nil {
		return false, fmt.Errorf("superseding record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO credential_records
		 (proxy_id, owner_id, ciphertext, nonce, provider, rotation_interval_s,
		  last_rotated_at, webhook_url, superseded, revoked, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		replacement.ProxyID, replacement.OwnerID, replacement.Ciphertext, replacement.Nonce,
		replacement.Provider, int64(replacement.RotationInterval.Seconds()),
		replacement.LastRotatedAt, replacement.WebhookURL,
		replacement.Superseded, replacement.Revoked, replacement.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting replacement record: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO rotation_links (from_proxy_id, to_proxy_id, rotated_at)
		 VALUES ($1, $2, $3)`,
		link.FromProxyID, link.ToProxyID, link.RotatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting rotation link: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// --- Audit ---

func (p *PostgresBackend) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO audit_log (request_id, timestamp, owner_hash, operation, path, status, response_code, response_time_ms, client_ip)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.RequestID, entry.Timestamp, entry.OwnerHash, entry.Operation,
		entry.Path, entry.Status, entry.ResponseCode, entry.ResponseTimeMs, entry.ClientIP,
	)
	return err
}
