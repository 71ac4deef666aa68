package rotation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/org/keyproxy/internal/session"
	"github.com/org/keyproxy/internal/storage"
	"github.com/org/keyproxy/internal/vault"
	"github.com/org/keyproxy/pkg/models"
)

func newTestEngine(t *testing.T) (*Engine, *storage.MemoryBackend, *time.Time) {
	t.Helper()
	store := storage.NewMemoryBackend()
	engine := NewEngine(store, vault.NewChain(store), nil)
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return clock }
	return engine, store, &clock
}

func seedRecord(t *testing.T, store *storage.MemoryBackend, proxyID string, interval time.Duration, lastRotated time.Time) {
	t.Helper()
	rec := &models.CredentialRecord{
		ProxyID:          proxyID,
		OwnerID:          "owner-a",
		Ciphertext:       []byte("ciphertext"),
		Nonce:            []byte("nonce"),
		Provider:         "openai",
		RotationInterval: interval,
		LastRotatedAt:    lastRotated,
		CreatedAt:        lastRotated,
	}
	if err := store.CreateRecord(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
}

func TestCheckAndRotateNotDue(t *testing.T) {
	engine, store, clock := newTestEngine(t)
	seedRecord(t, store, "pk_1", time.Hour, clock.Add(-time.Minute))

	newID, err := engine.CheckAndRotate(context.Background(), "pk_1")
	if err != nil {
		t.Fatal(err)
	}
	if newID != "" {
		t.Fatalf("rotation before the interval elapses must be a no-op, got %s", newID)
	}

	rec, _ := store.GetRecord(context.Background(), "pk_1")
	if rec.Superseded {
		t.Fatal("record must remain live when not due")
	}
}

func TestCheckAndRotateDue(t *testing.T) {
	engine, store, clock := newTestEngine(t)
	seedRecord(t, store, "pk_1", time.Hour, clock.Add(-2*time.Hour))
	ctx := context.Background()

	newID, err := engine.CheckAndRotate(ctx, "pk_1")
	if err != nil {
		t.Fatal(err)
	}
	if newID == "" {
		t.Fatal("expected a rotation")
	}
	if !strings.HasPrefix(newID, "pk_") {
		t.Fatalf("minted id should carry the pk_ prefix, got %s", newID)
	}

	old, _ := store.GetRecord(ctx, "pk_1")
	if !old.Superseded {
		t.Fatal("old record must be marked superseded")
	}
	repl, err := store.GetRecord(ctx, newID)
	if err != nil {
		t.Fatalf("replacement record missing: %v", err)
	}
	if string(repl.Ciphertext) != "ciphertext" || string(repl.Nonce) != "nonce" {
		t.Fatal("rotation must copy the ciphertext unchanged")
	}
	if !repl.LastRotatedAt.Equal(*clock) {
		t.Fatalf("replacement LastRotatedAt should be the rotation time, got %v", repl.LastRotatedAt)
	}

	link, err := store.GetLink(ctx, "pk_1")
	if err != nil {
		t.Fatalf("rotation link missing: %v", err)
	}
	if link.ToProxyID != newID {
		t.Fatalf("link points to %s, expected %s", link.ToProxyID, newID)
	}
}

func TestZeroIntervalNeverRotates(t *testing.T) {
	engine, store, clock := newTestEngine(t)
	seedRecord(t, store, "pk_1", 0, clock.Add(-1000*time.Hour))

	newID, err := engine.CheckAndRotate(context.Background(), "pk_1")
	if err != nil {
		t.Fatal(err)
	}
	if newID != "" {
		t.Fatal("interval 0 means rotation is disabled")
	}

	n, err := engine.RotateExpiredKeys(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("sweep must skip interval-0 records: n=%d err=%v", n, err)
	}
}

func TestFindCurrentKeyFollowsChain(t *testing.T) {
	engine, store, clock := newTestEngine(t)
	seedRecord(t, store, "pk_1", time.Hour, clock.Add(-2*time.Hour))
	ctx := context.Background()

	first, err := engine.CheckAndRotate(ctx, "pk_1")
	if err != nil || first == "" {
		t.Fatalf("first rotation: id=%s err=%v", first, err)
	}

	// Advance past another interval so the head itself is due; resolution of
	// the original id must land on the newest head.
	*clock = clock.Add(2 * time.Hour)
	head, err := engine.FindCurrentKey(ctx, "pk_1")
	if err != nil {
		t.Fatal(err)
	}
	if head == "pk_1" || head == first {
		t.Fatalf("expected a fresh head after the second expiry, got %s", head)
	}

	// A second lookup converges to the same head now that nothing is due.
	again, err := engine.FindCurrentKey(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if again != head {
		t.Fatalf("stale id resolved to %s, head is %s", again, head)
	}
}

func TestFindCurrentKeyRevoked(t *testing.T) {
	engine, store, clock := newTestEngine(t)
	seedRecord(t, store, "pk_1", time.Hour, clock.Add(-2*time.Hour))
	ctx := context.Background()

	newID, err := engine.CheckAndRotate(ctx, "pk_1")
	if err != nil || newID == "" {
		t.Fatal(err)
	}
	if err := store.MarkRevoked(ctx, newID); err != nil {
		t.Fatal(err)
	}

	// Revocation of the head is terminal for every id in the chain.
	if _, err := engine.FindCurrentKey(ctx, "pk_1"); !errors.Is(err, vault.ErrRevoked) {
		t.Fatalf("expected ErrRevoked via stale id, got %v", err)
	}
	if _, err := engine.FindCurrentKey(ctx, newID); !errors.Is(err, vault.ErrRevoked) {
		t.Fatalf("expected ErrRevoked via head id, got %v", err)
	}
}

func TestFindCurrentKeyUnknown(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.FindCurrentKey(context.Background(), "pk_missing")
	if !errors.Is(err, vault.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentRotationConverges(t *testing.T) {
	engine, store, clock := newTestEngine(t)
	seedRecord(t, store, "pk_1", time.Hour, clock.Add(-2*time.Hour))
	ctx := context.Background()

	const callers = 16
	results := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.FindCurrentKey(ctx, "pk_1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	winner := results[0]
	for i, id := range results {
		if id == "" || id == "pk_1" {
			t.Fatalf("caller %d resolved to %q; all callers must land on the replacement", i, id)
		}
		if id != winner {
			t.Fatalf("caller %d got %s, caller 0 got %s; exactly one rotation must happen", i, id, winner)
		}
	}

	// Exactly one replacement record exists.
	n, err := store.CountRecords(ctx, "owner-a")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 live record after the race, got %d", n)
	}
}

func TestRotateExpiredKeysSweep(t *testing.T) {
	engine, store, clock := newTestEngine(t)
	seedRecord(t, store, "pk_due_1", time.Hour, clock.Add(-2*time.Hour))
	seedRecord(t, store, "pk_due_2", 30*time.Minute, clock.Add(-time.Hour))
	seedRecord(t, store, "pk_fresh", time.Hour, clock.Add(-time.Minute))
	seedRecord(t, store, "pk_never", 0, clock.Add(-1000*time.Hour))
	ctx := context.Background()

	n, err := engine.RotateExpiredKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rotations, got %d", n)
	}

	for _, id := range []string{"pk_due_1", "pk_due_2"} {
		rec, _ := store.GetRecord(ctx, id)
		if !rec.Superseded {
			t.Fatalf("%s should be superseded after the sweep", id)
		}
	}
	for _, id := range []string{"pk_fresh", "pk_never"} {
		rec, _ := store.GetRecord(ctx, id)
		if rec.Superseded {
			t.Fatalf("%s should not rotate", id)
		}
	}

	// An immediate second sweep has nothing left to do.
	n, err = engine.RotateExpiredKeys(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
}

func TestSweepStopsOnCancel(t *testing.T) {
	engine, store, clock := newTestEngine(t)
	seedRecord(t, store, "pk_1", time.Hour, clock.Add(-2*time.Hour))
	seedRecord(t, store, "pk_2", time.Hour, clock.Add(-2*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := engine.RotateExpiredKeys(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n != 0 {
		t.Fatalf("cancelled sweep rotated %d records", n)
	}
}

func TestGetRotationInfo(t *testing.T) {
	engine, store, clock := newTestEngine(t)
	seedRecord(t, store, "pk_1", time.Hour, clock.Add(-20*time.Minute))
	seedRecord(t, store, "pk_never", 0, *clock)
	ctx := context.Background()

	info, err := engine.GetRotationInfo(ctx, "pk_1")
	if err != nil {
		t.Fatal(err)
	}
	if info.IntervalSeconds != 3600 {
		t.Fatalf("interval: %d", info.IntervalSeconds)
	}
	if info.SecondsUntilRotation != 2400 {
		t.Fatalf("seconds until rotation: %d", info.SecondsUntilRotation)
	}

	info, err = engine.GetRotationInfo(ctx, "pk_never")
	if err != nil {
		t.Fatal(err)
	}
	if info.IntervalSeconds != 0 || info.SecondsUntilRotation != 0 {
		t.Fatalf("interval-0 record: %+v", info)
	}

	// Overdue records clamp at zero rather than going negative.
	seedRecord(t, store, "pk_overdue", time.Hour, clock.Add(-3*time.Hour))
	info, err = engine.GetRotationInfo(ctx, "pk_overdue")
	if err != nil {
		t.Fatal(err)
	}
	if info.SecondsUntilRotation != 0 {
		t.Fatalf("overdue record should report 0, got %d", info.SecondsUntilRotation)
	}

	if _, err := engine.GetRotationInfo(ctx, "pk_missing"); !errors.Is(err, vault.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveAcrossScheduledExpiry(t *testing.T) {
	store := storage.NewMemoryBackend()
	sessions := session.NewManager(100 * time.Hour)
	svc := vault.NewService(store, sessions)
	engine := NewEngine(store, svc.Chain(), nil)
	svc.SetRotator(engine)

	// Provision stamps records with wall time, so the injected clock starts
	// there and only moves forward.
	clock := time.Now().UTC()
	engine.now = func() time.Time { return clock }
	ctx := context.Background()

	if err := sessions.Unlock("owner-a", []byte("unlock-key-a")); err != nil {
		t.Fatal(err)
	}
	if err := svc.Provision(ctx, "owner-a", "pk_0", "sk-real", "openai", time.Hour, ""); err != nil {
		t.Fatal(err)
	}

	// Fresh record resolves in place, no rotation.
	res, err := svc.Resolve(ctx, "owner-a", "pk_0")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.ResolveOK || res.Secret != "sk-real" {
		t.Fatalf("fresh resolve: %+v", res)
	}

	// Past the interval, resolving the old id rotates and reports the new one.
	clock = clock.Add(time.Hour + time.Second)
	res, err = svc.Resolve(ctx, "owner-a", "pk_0")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.ResolveRotated || res.NewProxyID == "" || res.NewProxyID == "pk_0" {
		t.Fatalf("expected rotated resolution, got %+v", res)
	}
	if res.Secret != "sk-real" {
		t.Fatal("rotation must not change the stored secret")
	}
	p1 := res.NewProxyID

	// Both ids now land on the same head and yield the same secret.
	resOld, err := svc.Resolve(ctx, "owner-a", "pk_0")
	if err != nil {
		t.Fatal(err)
	}
	resNew, err := svc.Resolve(ctx, "owner-a", p1)
	if err != nil {
		t.Fatal(err)
	}
	if resOld.Secret != "sk-real" || resNew.Secret != "sk-real" {
		t.Fatalf("secrets diverged: %q vs %q", resOld.Secret, resNew.Secret)
	}
	if resOld.NewProxyID != p1 || resNew.Status != models.ResolveOK {
		t.Fatalf("old id: %+v, new id: %+v", resOld, resNew)
	}

	head, err := engine.FindCurrentKey(ctx, "pk_0")
	if err != nil || head != p1 {
		t.Fatalf("head: %s err: %v, want %s", head, err, p1)
	}

	// Revoking through the stale ancestor id marks the live head, ending
	// resolution for every id in the chain.
	if err := svc.Revoke(ctx, "owner-a", "pk_0"); err != nil {
		t.Fatalf("revoke via ancestor: %v", err)
	}
	for _, id := range []string{"pk_0", p1} {
		res, err := svc.Resolve(ctx, "owner-a", id)
		if err != nil {
			t.Fatalf("resolve %s after revoke: %v", id, err)
		}
		if res.Status != models.ResolveRevoked {
			t.Fatalf("resolve %s after revoke: status %s", id, res.Status)
		}
	}
}

type captureNotifier struct {
	mu     sync.Mutex
	events []RotationEvent
	urls   []string
}

func (c *captureNotifier) NotifyRotated(ctx context.Context, url string, ev RotationEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	c.urls = append(c.urls, url)
}

func TestRotationNotifiesWebhook(t *testing.T) {
	store := storage.NewMemoryBackend()
	notifier := &captureNotifier{}
	engine := NewEngine(store, vault.NewChain(store), notifier)
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return clock }

	ctx := context.Background()
	rec := &models.CredentialRecord{
		ProxyID:          "pk_1",
		OwnerID:          "owner-a",
		Ciphertext:       []byte("ciphertext"),
		Nonce:            []byte("nonce"),
		Provider:         "openai",
		RotationInterval: time.Hour,
		LastRotatedAt:    clock.Add(-2 * time.Hour),
		WebhookURL:       "https://example.com/hook",
		CreatedAt:        clock.Add(-2 * time.Hour),
	}
	if err := store.CreateRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	newID, err := engine.CheckAndRotate(ctx, "pk_1")
	if err != nil || newID == "" {
		t.Fatalf("rotation: id=%s err=%v", newID, err)
	}

	if len(notifier.events) != 1 {
		t.Fatalf("expected 1 webhook event, got %d", len(notifier.events))
	}
	ev := notifier.events[0]
	if ev.OldProxyID != "pk_1" || ev.NewProxyID != newID || ev.Provider != "openai" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if notifier.urls[0] != "https://example.com/hook" {
		t.Fatalf("unexpected webhook url: %s", notifier.urls[0])
	}
}
