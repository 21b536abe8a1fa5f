package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/user"
	"runtime"
	"strings"
	"time"
)

// FingerprintPrefix marks tokens derived from environment attributes. The
// prefix keeps collisions attributable when two machines share a
// configuration.
const FingerprintPrefix = "device_"

// Fingerprinter derives a short deterministic token from stable environment
// attributes. No network, no persistence.
type Fingerprinter func() (string, error)

// EnvironmentFingerprint hashes host name, platform, locale, timezone and
// user name. It is deterministic on one machine but not guaranteed unique
// across machines, which is why resolution only reaches it after both durable
// tiers came up empty.
func EnvironmentFingerprint() (string, error) {
	var attrs []string

	if host, err := os.Hostname(); err == nil && host != "" {
		attrs = append(attrs, host)
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		attrs = append(attrs, u.Username)
	}
	if lang := os.Getenv("LANG"); lang != "" {
		attrs = append(attrs, lang)
	}
	if zone, _ := time.Now().Zone(); zone != "" {
		attrs = append(attrs, zone)
	}

	// GOOS/GOARCH alone identify nothing; require at least one attribute
	// that varies per machine.
	if len(attrs) == 0 {
		return "", ErrFingerprintUnavailable
	}
	attrs = append(attrs, runtime.GOOS, runtime.GOARCH)

	sum := sha256.Sum256([]byte(strings.Join(attrs, "|")))
	return FingerprintPrefix + hex.EncodeToString(sum[:])[:12], nil
}
