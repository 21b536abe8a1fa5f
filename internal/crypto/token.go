package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// NewIdentityToken mints a fresh identity id: a base36 millisecond component
// for rough uniqueness across installs plus 9 random bytes. The result is
// URL/path-safe so it can be used directly as a directory document id.
func NewIdentityToken() (string, error) {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	return "u" + ts + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken is the loggable form of a bearer token: stable for correlation,
// useless for authentication.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
