package identity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/monitor111/pwa-chat/internal/model"
)

type memTier struct {
	name    string
	data    map[string]string
	failSet bool
}

func newMemTier(name string) *memTier {
	return &memTier{name: name, data: map[string]string{}}
}

func (t *memTier) Name() string { return t.name }

func (t *memTier) Get(key string) (string, bool) {
	value, ok := t.data[key]
	return value, ok && value != ""
}

func (t *memTier) Set(key, value string) error {
	if t.failSet {
		return errors.New("tier unavailable")
	}
	t.data[key] = value
	return nil
}

func (t *memTier) Remove(key string) error {
	delete(t.data, key)
	return nil
}

type upsertCall struct {
	id     string
	fields Fields
}

type fakeDirectory struct {
	calls []upsertCall
	err   error
}

func (d *fakeDirectory) Upsert(_ context.Context, id string, fields Fields) error {
	d.calls = append(d.calls, upsertCall{id: id, fields: fields})
	return d.err
}

func noFingerprint() (string, error) {
	return "", ErrFingerprintUnavailable
}

func newTestResolver(dir Directory, tiers ...Tier) *Resolver {
	return NewResolver(dir, Options{Tiers: tiers, Fingerprint: noFingerprint})
}

func TestResolveIsIdempotent(t *testing.T) {
	resolver := newTestResolver(&fakeDirectory{}, newMemTier("primary"), newMemTier("secondary"))

	first, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	second, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected stable id, got %q then %q", first.ID, second.ID)
	}
}

func TestResolveMintsAndPersistsToBothTiers(t *testing.T) {
	primary := newMemTier("primary")
	secondary := newMemTier("secondary")
	resolver := newTestResolver(&fakeDirectory{}, primary, secondary)

	resolved, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if resolved.Origin != model.OriginLocal {
		t.Fatalf("expected minted origin local, got %s", resolved.Origin)
	}
	if id, ok := primary.Get(keyID); !ok || id != resolved.ID {
		t.Fatalf("expected id in primary tier, got %q", id)
	}
	if id, ok := secondary.Get(keyID); !ok || id != resolved.ID {
		t.Fatalf("expected id in secondary tier, got %q", id)
	}

	// A fresh resolver over the same tiers restores the same identity.
	again, err := newTestResolver(&fakeDirectory{}, primary, secondary).Resolve()
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if again.ID != resolved.ID {
		t.Fatalf("expected restored id %q, got %q", resolved.ID, again.ID)
	}
}

func TestResolveSurvivesPrimaryWipe(t *testing.T) {
	primary := newMemTier("primary")
	secondary := newMemTier("secondary")
	resolved, err := newTestResolver(&fakeDirectory{}, primary, secondary).Resolve()
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}

	primary.data = map[string]string{}

	restored, err := newTestResolver(&fakeDirectory{}, primary, secondary).Resolve()
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if restored.ID != resolved.ID {
		t.Fatalf("expected id to survive primary wipe, got %q want %q", restored.ID, resolved.ID)
	}
	if id, ok := primary.Get(keyID); !ok || id != resolved.ID {
		t.Fatalf("expected id restored into primary tier, got %q", id)
	}
}

func TestResolveFingerprintFallback(t *testing.T) {
	resolver := NewResolver(&fakeDirectory{}, Options{
		Tiers:       []Tier{newMemTier("primary")},
		Fingerprint: func() (string, error) { return "device_abc123def456", nil },
	})

	resolved, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if resolved.ID != "device_abc123def456" {
		t.Fatalf("expected fingerprint id, got %q", resolved.ID)
	}
	if resolved.Origin != model.OriginFingerprint {
		t.Fatalf("expected fingerprint origin, got %s", resolved.Origin)
	}
	if resolved.DisplayName != "User-f456" {
		t.Fatalf("expected placeholder from id tail, got %q", resolved.DisplayName)
	}
}

func TestResolveMintsWhenFingerprintUnavailable(t *testing.T) {
	resolved, err := newTestResolver(&fakeDirectory{}, newMemTier("primary")).Resolve()
	if err != nil {
		t.Fatalf("expected mint fallback, got error: %v", err)
	}
	if resolved.Origin != model.OriginLocal {
		t.Fatalf("expected minted origin, got %s", resolved.Origin)
	}
	if !strings.HasPrefix(resolved.DisplayName, "User-") {
		t.Fatalf("expected placeholder name, got %q", resolved.DisplayName)
	}
}

func TestResolvePlatformIDWins(t *testing.T) {
	primary := newMemTier("primary")
	primary.data[keyID] = "stale-token"
	resolver := NewResolver(&fakeDirectory{}, Options{
		Tiers:       []Tier{primary},
		Fingerprint: noFingerprint,
		PlatformID:  "platform-uid-42",
	})

	resolved, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if resolved.ID != "platform-uid-42" || resolved.Origin != model.OriginPlatform {
		t.Fatalf("expected platform identity, got %+v", resolved)
	}
}

func TestResolveIgnoresFailingTier(t *testing.T) {
	broken := newMemTier("broken")
	broken.failSet = true
	healthy := newMemTier("healthy")

	resolved, err := newTestResolver(&fakeDirectory{}, broken, healthy).Resolve()
	if err != nil {
		t.Fatalf("expected resolution despite tier failure, got %v", err)
	}
	if id, ok := healthy.Get(keyID); !ok || id != resolved.ID {
		t.Fatalf("expected id persisted to healthy tier")
	}
}

func TestSetDisplayNameRejectsEmpty(t *testing.T) {
	resolver := newTestResolver(&fakeDirectory{}, newMemTier("primary"))
	before, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}

	for _, name := range []string{"", "   ", "\t\n"} {
		if _, err := resolver.SetDisplayName(context.Background(), name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("expected ErrInvalidName for %q, got %v", name, err)
		}
	}

	after, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if after.ID != before.ID {
		t.Fatalf("expected id unchanged after failed rename")
	}
}

func TestSetDisplayNamePersistsAndUpserts(t *testing.T) {
	dir := &fakeDirectory{}
	primary := newMemTier("primary")
	secondary := newMemTier("secondary")
	resolver := newTestResolver(dir, primary, secondary)

	resolved, err := resolver.SetDisplayName(context.Background(), "  Alice ")
	if err != nil {
		t.Fatalf("rename error: %v", err)
	}
	if resolved.DisplayName != "Alice" {
		t.Fatalf("expected trimmed name, got %q", resolved.DisplayName)
	}

	if len(dir.calls) != 1 {
		t.Fatalf("expected one upsert, got %d", len(dir.calls))
	}
	call := dir.calls[0]
	if call.id != resolved.ID || call.fields.DisplayName == nil || *call.fields.DisplayName != "Alice" {
		t.Fatalf("unexpected upsert %+v", call)
	}
	if call.fields.Online != nil {
		t.Fatalf("rename must not touch the online flag")
	}

	// A fresh resolver sees the chosen name, not the placeholder.
	again, err := newTestResolver(dir, primary, secondary).Resolve()
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if again.DisplayName != "Alice" {
		t.Fatalf("expected chosen name to persist, got %q", again.DisplayName)
	}
}

// A chosen name is a choice even when it equals the derived placeholder
// string; the resolver must not conflate the two.
func TestNameChosenTracksExplicitChoice(t *testing.T) {
	primary := newMemTier("primary")
	secondary := newMemTier("secondary")
	resolver := newTestResolver(&fakeDirectory{}, primary, secondary)

	resolved, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if resolved.NameChosen {
		t.Fatalf("expected placeholder name to be unchosen")
	}

	named, err := resolver.SetDisplayName(context.Background(), PlaceholderName(resolved.ID))
	if err != nil {
		t.Fatalf("rename error: %v", err)
	}
	if !named.NameChosen {
		t.Fatalf("expected rename to mark the name chosen")
	}

	restored, err := newTestResolver(&fakeDirectory{}, primary, secondary).Resolve()
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if !restored.NameChosen || restored.DisplayName != PlaceholderName(resolved.ID) {
		t.Fatalf("expected placeholder-shaped choice to survive restore, got %+v", restored)
	}
}

func TestSetDisplayNameRemoteFailureKeepsLocal(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("network down")}
	resolver := newTestResolver(dir, newMemTier("primary"))

	resolved, err := resolver.SetDisplayName(context.Background(), "Bob")
	var writeErr *DirectoryWriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected DirectoryWriteError, got %v", err)
	}
	if resolved.DisplayName != "Bob" {
		t.Fatalf("expected local name kept on remote failure, got %q", resolved.DisplayName)
	}

	again, resolveErr := resolver.Resolve()
	if resolveErr != nil {
		t.Fatalf("resolve error: %v", resolveErr)
	}
	if again.DisplayName != "Bob" {
		t.Fatalf("expected local name retained, got %q", again.DisplayName)
	}
}

func TestPublishPresence(t *testing.T) {
	dir := &fakeDirectory{}
	resolver := newTestResolver(dir, newMemTier("primary"))
	resolved, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}

	if err := resolver.PublishPresence(context.Background(), resolved.ID, true); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	if err := resolver.PublishPresence(context.Background(), resolved.ID, false); err != nil {
		t.Fatalf("publish error: %v", err)
	}

	if len(dir.calls) != 2 {
		t.Fatalf("expected two upserts, got %d", len(dir.calls))
	}
	last := dir.calls[1]
	if last.fields.Online == nil || *last.fields.Online {
		t.Fatalf("expected final upsert to set online=false")
	}

	dir.err = errors.New("unreachable")
	err = resolver.PublishPresence(context.Background(), resolved.ID, true)
	var writeErr *DirectoryWriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected DirectoryWriteError, got %v", err)
	}
}

func TestEndSessionWithoutWipeKeepsTiers(t *testing.T) {
	primary := newMemTier("primary")
	resolver := newTestResolver(&fakeDirectory{}, primary)
	resolved, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}

	if err := resolver.EndSession(context.Background(), resolved.ID); err != nil {
		t.Fatalf("end session error: %v", err)
	}
	if _, ok := primary.Get(keyID); !ok {
		t.Fatalf("expected id to remain without wipe")
	}
}

func TestEndSessionWipeForcesNewIdentity(t *testing.T) {
	primary := newMemTier("primary")
	secondary := newMemTier("secondary")
	dir := &fakeDirectory{}
	resolver := NewResolver(dir, Options{
		Tiers:         []Tier{primary, secondary},
		Fingerprint:   noFingerprint,
		WipeOnSignOut: true,
	})

	resolved, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if _, err := resolver.SetDisplayName(context.Background(), "Carol"); err != nil {
		t.Fatalf("rename error: %v", err)
	}

	if err := resolver.EndSession(context.Background(), resolved.ID); err != nil {
		t.Fatalf("end session error: %v", err)
	}
	if _, ok := primary.Get(keyID); ok {
		t.Fatalf("expected primary tier wiped")
	}
	if _, ok := secondary.Get(keyName); ok {
		t.Fatalf("expected name wiped from secondary tier")
	}

	fresh, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if fresh.ID == resolved.ID {
		t.Fatalf("expected new id after sign-out wipe")
	}
	if fresh.DisplayName == "Carol" {
		t.Fatalf("expected placeholder name after wipe, got %q", fresh.DisplayName)
	}
}

func TestPlaceholderName(t *testing.T) {
	if got := PlaceholderName("u1abcd"); got != "User-abcd" {
		t.Fatalf("expected User-abcd, got %q", got)
	}
	if got := PlaceholderName("ab"); got != "User-ab" {
		t.Fatalf("expected short ids used whole, got %q", got)
	}
}
