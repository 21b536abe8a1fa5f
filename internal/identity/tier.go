package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Tier is one local key-value persistence mechanism consulted during
// resolution. Tiers differ in durability: the primary tier is fast but may be
// wiped by the user, the secondary tier survives a wipe of the primary.
//
// Get reports absence, never failure: a tier that cannot be read behaves as
// empty so resolution can move on to the next one.
type Tier interface {
	Name() string
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

// FileTier stores keys in a single JSON state file. It is the primary tier,
// the analog of the browser's localStorage.
type FileTier struct {
	path string
}

func NewFileTier(path string) *FileTier {
	return &FileTier{path: path}
}

func (t *FileTier) Name() string { return "state-file" }

func (t *FileTier) Get(key string) (string, bool) {
	data, err := t.read()
	if err != nil {
		return "", false
	}
	value, ok := data[key]
	return value, ok && value != ""
}

func (t *FileTier) Set(key, value string) error {
	data, err := t.read()
	if err != nil {
		data = map[string]string{}
	}
	data[key] = value
	return t.write(data)
}

func (t *FileTier) Remove(key string) error {
	data, err := t.read()
	if err != nil {
		return nil
	}
	delete(data, key)
	return t.write(data)
}

func (t *FileTier) read() (map[string]string, error) {
	raw, err := os.ReadFile(t.path)
	if err != nil {
		return nil, err
	}
	data := map[string]string{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (t *FileTier) write(data map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.path, raw, 0o600)
}

// cookieEntry carries an explicit expiry, mirroring a far-future cookie. An
// expired entry reads as absent.
type cookieEntry struct {
	Value   string    `json:"value"`
	Expires time.Time `json:"expires"`
}

// CookieTier is the secondary, durable tier. It lives in a separate location
// from the primary state file so clearing one does not clear the other, and
// every entry carries a far-future expiry.
type CookieTier struct {
	path string
	ttl  time.Duration
}

const defaultCookieTTL = 10 * 365 * 24 * time.Hour

func NewCookieTier(path string) *CookieTier {
	return &CookieTier{path: path, ttl: defaultCookieTTL}
}

func (t *CookieTier) Name() string { return "cookie-file" }

func (t *CookieTier) Get(key string) (string, bool) {
	data, err := t.read()
	if err != nil {
		return "", false
	}
	entry, ok := data[key]
	if !ok || entry.Value == "" {
		return "", false
	}
	if time.Now().After(entry.Expires) {
		return "", false
	}
	return entry.Value, true
}

func (t *CookieTier) Set(key, value string) error {
	data, err := t.read()
	if err != nil {
		data = map[string]cookieEntry{}
	}
	data[key] = cookieEntry{Value: value, Expires: time.Now().Add(t.ttl)}
	return t.write(data)
}

func (t *CookieTier) Remove(key string) error {
	data, err := t.read()
	if err != nil {
		return nil
	}
	delete(data, key)
	return t.write(data)
}

func (t *CookieTier) read() (map[string]cookieEntry, error) {
	raw, err := os.ReadFile(t.path)
	if err != nil {
		return nil, err
	}
	data := map[string]cookieEntry{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (t *CookieTier) write(data map[string]cookieEntry) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.path, raw, 0o600)
}

// DefaultTiers returns the standard two-tier stack for the current user:
// a state file under the OS state/cache location and a cookie file under the
// config location.
func DefaultTiers(appName string) ([]Tier, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return nil, err
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	return []Tier{
		NewFileTier(filepath.Join(cacheDir, appName, "state.json")),
		NewCookieTier(filepath.Join(configDir, appName, "cookie.json")),
	}, nil
}
