package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	ErrEmptyPassword = errors.New("password cannot be empty")
	ErrBadDigest     = errors.New("malformed argon2id digest")
)

const (
	saltBytes = 16
	keyBytes  = 32
)

var b64 = base64.RawStdEncoding

// Hasher derives Argon2id digests in the PHC string form
// $argon2id$v=19$m=<KiB>,t=<passes>,p=1$<salt>$<key>. Zero fields fall back
// to the package minimums, which suit fake accounts rather than production.
type Hasher struct {
	MemoryKiB uint32
	Passes    uint32
}

func (h Hasher) cost() (memory, passes uint32) {
	memory, passes = max(h.MemoryKiB, 8), max(h.Passes, 1)
	return
}

// Hash returns a self-describing digest of password under a fresh salt.
func (h Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	memory, passes := h.cost()
	key := argon2.IDKey([]byte(password), salt, passes, memory, 1, keyBytes)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=1$%s$%s",
		argon2.Version, memory, passes, b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Verify reports whether password produced digest. The cost is read from the
// digest, so changing the Hasher never invalidates stored values.
func Verify(password, digest string) (bool, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return false, ErrBadDigest
	}
	var memory, passes uint32
	var lanes uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &passes, &lanes); err != nil || lanes == 0 {
		return false, ErrBadDigest
	}
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return false, ErrBadDigest
	}
	want, err := b64.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, ErrBadDigest
	}
	got := argon2.IDKey([]byte(password), salt, passes, memory, lanes, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
