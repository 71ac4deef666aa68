package vault_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/org/keyproxy/internal/storage"
	"github.com/org/keyproxy/internal/vault"
	"github.com/org/keyproxy/pkg/models"
)

func TestChainFollowSingleNode(t *testing.T) {
	store := storage.NewMemoryBackend()
	now := time.Now().UTC()
	rec := &models.CredentialRecord{ProxyID: "pk_1", OwnerID: "owner-a", Provider: "openai", LastRotatedAt: now, CreatedAt: now}
	if err := store.CreateRecord(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	chain := vault.NewChain(store)

	head, err := chain.Follow(context.Background(), "pk_1")
	if err != nil {
		t.Fatal(err)
	}
	if head != "pk_1" {
		t.Fatalf("an unlinked id is its own head, got %s", head)
	}
}

func TestChainFollowMultipleHops(t *testing.T) {
	// Links are written through the CAS path to keep the seeded shape
	// identical to what rotation produces.
	store := storage.NewMemoryBackend()
	ctx := context.Background()
	now := time.Now().UTC()

	prev := &models.CredentialRecord{ProxyID: "pk_1", OwnerID: "owner-a", Provider: "openai", RotationInterval: time.Minute, LastRotatedAt: now.Add(-time.Hour), CreatedAt: now}
	if err := store.CreateRecord(ctx, prev); err != nil {
		t.Fatal(err)
	}
	for i := 2; i <= 4; i++ {
		id := fmt.Sprintf("pk_%d", i)
		repl := &models.CredentialRecord{ProxyID: id, OwnerID: "owner-a", Provider: "openai", RotationInterval: time.Minute, LastRotatedAt: now.Add(-time.Hour), CreatedAt: now}
		won, err := store.SupersedeRecord(ctx, prev.ProxyID, prev.LastRotatedAt, repl, &models.RotationLink{FromProxyID: prev.ProxyID, ToProxyID: id, RotatedAt: now})
		if err != nil || !won {
			t.Fatalf("supersede %s: won=%v err=%v", prev.ProxyID, won, err)
		}
		prev = repl
	}

	chain := vault.NewChain(store)
	for _, start := range []string{"pk_1", "pk_2", "pk_3", "pk_4"} {
		head, err := chain.Follow(ctx, start)
		if err != nil {
			t.Fatalf("follow from %s: %v", start, err)
		}
		if head != "pk_4" {
			t.Fatalf("follow from %s: expected pk_4, got %s", start, head)
		}
	}
}

func TestChainFollowTooLong(t *testing.T) {
	store := storage.NewMemoryBackend()
	ctx := context.Background()
	now := time.Now().UTC()

	// Build a chain longer than the traversal cap.
	prev := &models.CredentialRecord{ProxyID: "pk_0", OwnerID: "owner-a", Provider: "openai", RotationInterval: time.Minute, LastRotatedAt: now, CreatedAt: now}
	if err := store.CreateRecord(ctx, prev); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 70; i++ {
		id := fmt.Sprintf("pk_%d", i)
		repl := &models.CredentialRecord{ProxyID: id, OwnerID: "owner-a", Provider: "openai", RotationInterval: time.Minute, LastRotatedAt: now, CreatedAt: now}
		won, err := store.SupersedeRecord(ctx, prev.ProxyID, prev.LastRotatedAt, repl, &models.RotationLink{FromProxyID: prev.ProxyID, ToProxyID: id, RotatedAt: now})
		if err != nil || !won {
			t.Fatalf("supersede %s: won=%v err=%v", prev.ProxyID, won, err)
		}
		prev = repl
	}

	chain := vault.NewChain(store)
	_, err := chain.Follow(ctx, "pk_0")
	if !errors.Is(err, vault.ErrChainTooLong) {
		t.Fatalf("expected ErrChainTooLong, got %v", err)
	}
}
