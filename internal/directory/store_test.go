package directory

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/monitor111/pwa-chat/internal/crypto"
	"github.com/monitor111/pwa-chat/internal/db"
)

func openTestDB(t *testing.T) *pgxpool.Pool {
	url := os.Getenv("PWA_CHAT_TEST_DB")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("PWA_CHAT_TEST_DB or DATABASE_URL not set")
		return nil
	}
	pool, err := db.NewPool(context.Background(), url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
		return nil
	}
	if err := db.EnsureSchema(context.Background(), pool); err != nil {
		pool.Close()
		t.Skipf("schema setup failed: %v", err)
		return nil
	}
	return pool
}

func mintID(t *testing.T) string {
	t.Helper()
	id, err := crypto.NewIdentityToken()
	if err != nil {
		t.Fatalf("mint error: %v", err)
	}
	return id
}

func TestUpsertPresencePartialFields(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	store := NewStore(pool)
	ctx := context.Background()
	id := mintID(t)

	online := true
	created, err := store.UpsertPresence(ctx, id, PresenceUpdate{Online: &online})
	if err != nil {
		t.Fatalf("upsert error: %v", err)
	}
	if !created.Online {
		t.Fatalf("expected online record")
	}
	if created.DisplayName == "" {
		t.Fatalf("expected placeholder name on insert")
	}

	// A name-only update must not regress the online flag.
	name := "Alice"
	renamed, err := store.UpsertPresence(ctx, id, PresenceUpdate{Name: &name})
	if err != nil {
		t.Fatalf("upsert error: %v", err)
	}
	if !renamed.Online {
		t.Fatalf("expected online flag untouched by rename")
	}
	if renamed.DisplayName != "Alice" {
		t.Fatalf("expected renamed record, got %q", renamed.DisplayName)
	}
	if renamed.LastSeen.Before(created.LastSeen) {
		t.Fatalf("expected last_seen to advance on every write")
	}

	// An online-only update must not regress the name.
	offline := false
	final, err := store.UpsertPresence(ctx, id, PresenceUpdate{Online: &offline})
	if err != nil {
		t.Fatalf("upsert error: %v", err)
	}
	if final.DisplayName != "Alice" || final.Online {
		t.Fatalf("unexpected record after offline write: %+v", final)
	}

	if err := store.DeletePresence(ctx, id); err != nil {
		t.Fatalf("delete error: %v", err)
	}
}

func TestMarkStaleOffline(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	store := NewStore(pool)
	ctx := context.Background()

	online := true
	stale := mintID(t)
	fresh := mintID(t)
	for _, id := range []string{stale, fresh} {
		if _, err := store.UpsertPresence(ctx, id, PresenceUpdate{Online: &online}); err != nil {
			t.Fatalf("upsert error: %v", err)
		}
	}
	defer func() {
		_ = store.DeletePresence(ctx, stale)
		_ = store.DeletePresence(ctx, fresh)
	}()

	before, err := store.GetPresence(ctx, stale)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}

	swept, err := store.MarkStaleOffline(ctx, []string{stale})
	if err != nil {
		t.Fatalf("sweep error: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 row swept, got %d", swept)
	}

	after, err := store.GetPresence(ctx, stale)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if after.Online {
		t.Fatalf("expected swept record offline")
	}
	if !after.LastSeen.Equal(before.LastSeen) {
		t.Fatalf("expected sweep to leave last_seen untouched")
	}

	untouched, err := store.GetPresence(ctx, fresh)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if !untouched.Online {
		t.Fatalf("expected unlisted record untouched")
	}
}
