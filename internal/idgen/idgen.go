package idgen

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New returns a UUIDv7 identifier string.
// If UUIDv7 generation fails, it falls back to a random UUIDv4.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Event returns a ULID suitable as an event correlation id: short,
// lexically sortable, globally unique with overwhelming probability.
func Event() string {
	return ulid.Make().String()
}

// Token returns a URL-safe random token with n bytes of entropy, used
// for generated credentials.
func Token(n int) string {
	if n <= 0 {
		n = 12
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return New()
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
