// Package identity decides who the current client is. A Resolver walks an
// ordered list of local persistence tiers, falls back to an environment
// fingerprint and finally mints a fresh token, then keeps the chosen id in
// sync across every tier so it survives partial wipes. Presence publication
// to the remote directory happens strictly after resolution and is never
// allowed to invalidate a resolved identity.
package identity

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/monitor111/pwa-chat/internal/crypto"
	"github.com/monitor111/pwa-chat/internal/model"
)

// Tier keys. The id key matches the original "saved user" semantics: once
// written it is only ever removed by an explicit sign-out wipe.
const (
	keyID     = "id"
	keyOrigin = "origin"
	keyName   = "display_name"
)

// Fields is a partial directory update. Nil pointers leave the remote field
// untouched; the directory assigns last-seen server-side on every write.
type Fields struct {
	DisplayName *string
	Online      *bool
}

// Directory is the remote upsert primitive the resolver publishes through.
type Directory interface {
	Upsert(ctx context.Context, id string, fields Fields) error
}

// Options configure a Resolver.
type Options struct {
	// Tiers in resolution order, most volatile first.
	Tiers []Tier
	// Fingerprint is the last-resort token source. Defaults to
	// EnvironmentFingerprint.
	Fingerprint Fingerprinter
	// PlatformID, when set, wins over every tier: the identity was
	// assigned by an external authentication platform.
	PlatformID string
	// WipeOnSignOut clears all tiers in EndSession, forcing a brand-new
	// id on the next resolution.
	WipeOnSignOut bool
}

// Resolver produces a stable Identity for this installation and publishes
// presence transitions for it.
type Resolver struct {
	dir           Directory
	tiers         []Tier
	fingerprint   Fingerprinter
	platformID    string
	wipeOnSignOut bool

	mu     sync.Mutex
	cached *model.Identity
}

func NewResolver(dir Directory, opts Options) *Resolver {
	fingerprint := opts.Fingerprint
	if fingerprint == nil {
		fingerprint = EnvironmentFingerprint
	}
	return &Resolver{
		dir:           dir,
		tiers:         opts.Tiers,
		fingerprint:   fingerprint,
		platformID:    opts.PlatformID,
		wipeOnSignOut: opts.WipeOnSignOut,
	}
}

// Resolve returns the identity for this client. The first call walks the
// tiers; subsequent calls return the same identity until the tiers are wiped
// through EndSession. Resolve never touches the network.
func (r *Resolver) Resolve() (model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked()
}

func (r *Resolver) resolveLocked() (model.Identity, error) {
	if r.cached != nil {
		return *r.cached, nil
	}

	id, origin, err := r.findID()
	if err != nil {
		return model.Identity{}, err
	}

	// Write the winning token back to every tier so the next resolution
	// succeeds even if one tier has been cleared since.
	r.setAll(keyID, id)
	r.setAll(keyOrigin, string(origin))

	name, chosen := r.firstValue(keyName)
	if !chosen {
		name = PlaceholderName(id)
	}

	resolved := model.Identity{ID: id, DisplayName: name, NameChosen: chosen, Origin: origin}
	r.cached = &resolved
	return resolved, nil
}

func (r *Resolver) findID() (string, model.Origin, error) {
	if r.platformID != "" {
		return r.platformID, model.OriginPlatform, nil
	}

	if id, ok := r.firstValue(keyID); ok {
		return id, r.storedOrigin(id), nil
	}

	if id, err := r.fingerprint(); err == nil {
		return id, model.OriginFingerprint, nil
	}

	id, err := crypto.NewIdentityToken()
	if err != nil {
		return "", "", err
	}
	return id, model.OriginLocal, nil
}

// storedOrigin recovers the origin persisted next to a restored token,
// falling back to the token shape when the origin key is missing.
func (r *Resolver) storedOrigin(id string) model.Origin {
	if raw, ok := r.firstValue(keyOrigin); ok {
		switch origin := model.Origin(raw); origin {
		case model.OriginPlatform, model.OriginLocal, model.OriginFingerprint:
			return origin
		}
	}
	if strings.HasPrefix(id, FingerprintPrefix) {
		return model.OriginFingerprint
	}
	return model.OriginLocal
}

func (r *Resolver) firstValue(key string) (string, bool) {
	for _, tier := range r.tiers {
		if value, ok := tier.Get(key); ok {
			return value, true
		}
	}
	return "", false
}

func (r *Resolver) setAll(key, value string) {
	for _, tier := range r.tiers {
		if err := tier.Set(key, value); err != nil {
			log.Printf("identity: tier %s set %s failed: %v", tier.Name(), key, err)
		}
	}
}

func (r *Resolver) removeAll(key string) {
	for _, tier := range r.tiers {
		if err := tier.Remove(key); err != nil {
			log.Printf("identity: tier %s remove %s failed: %v", tier.Name(), key, err)
		}
	}
}

// SetDisplayName persists a user-chosen name locally, then awaits the remote
// rename so callers can tell "saved" from "save failed". The id never
// changes; a failed remote write keeps the local name.
func (r *Resolver) SetDisplayName(ctx context.Context, name string) (model.Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.cached != nil {
			return *r.cached, ErrInvalidName
		}
		return model.Identity{}, ErrInvalidName
	}

	r.mu.Lock()
	resolved, err := r.resolveLocked()
	if err != nil {
		r.mu.Unlock()
		return model.Identity{}, err
	}
	r.setAll(keyName, name)
	resolved.DisplayName = name
	resolved.NameChosen = true
	r.cached = &resolved
	r.mu.Unlock()

	if err := r.dir.Upsert(ctx, resolved.ID, Fields{DisplayName: &name}); err != nil {
		return resolved, &DirectoryWriteError{ID: resolved.ID, Err: err}
	}
	return resolved, nil
}

// PublishPresence writes the online flag for id. The directory stamps
// last-seen in the same write. A failure is non-fatal to the client; callers
// log it and retry no sooner than the next session transition.
func (r *Resolver) PublishPresence(ctx context.Context, id string, online bool) error {
	if err := r.dir.Upsert(ctx, id, Fields{Online: &online}); err != nil {
		return &DirectoryWriteError{ID: id, Err: err}
	}
	return nil
}

// EndSession publishes offline and, when the resolver was configured with
// WipeOnSignOut, clears every tier so the next Resolve mints a new identity.
// The wipe happens regardless of whether the offline publish succeeded.
func (r *Resolver) EndSession(ctx context.Context, id string) error {
	err := r.PublishPresence(ctx, id, false)

	if r.wipeOnSignOut {
		r.mu.Lock()
		r.removeAll(keyID)
		r.removeAll(keyOrigin)
		r.removeAll(keyName)
		r.cached = nil
		r.mu.Unlock()
	}
	return err
}

// PlaceholderName derives the name shown before the user picks one, from the
// tail of the id. It is display-only and never persisted as a choice.
func PlaceholderName(id string) string {
	tail := id
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return "User-" + tail
}
