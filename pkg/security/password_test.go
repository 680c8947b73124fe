package security_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/angelmondragon/packfinderz-storefront/pkg/security"
)

func TestHashThenVerify(t *testing.T) {
	digest, err := security.Hasher{MemoryKiB: 8 * 1024, Passes: 1}.Hash("very-secure-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(digest, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected digest %q", digest)
	}

	if ok, err := security.Verify("very-secure-password", digest); err != nil || !ok {
		t.Fatalf("correct password: ok=%v err=%v", ok, err)
	}
	if ok, err := security.Verify("bogus-password", digest); err != nil || ok {
		t.Fatalf("wrong password: ok=%v err=%v", ok, err)
	}
}

func TestZeroHasherUsesMinimumCost(t *testing.T) {
	digest, err := security.Hasher{}.Hash("pw")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.Contains(digest, "$m=8,t=1,p=1$") {
		t.Fatalf("expected minimum cost, got %q", digest)
	}
	if ok, _ := security.Verify("pw", digest); !ok {
		t.Fatal("minimum cost digest should verify")
	}
}

func TestHashRejectsEmptyPassword(t *testing.T) {
	if _, err := (security.Hasher{}).Hash(""); !errors.Is(err, security.ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestVerifyMalformedDigest(t *testing.T) {
	for _, digest := range []string{
		"",
		"not-a-digest",
		"$bcrypt$v=19$m=8,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=8,t=1,p=1$!!$a2V5",
	} {
		if _, err := security.Verify("pw", digest); !errors.Is(err, security.ErrBadDigest) {
			t.Fatalf("%q: expected ErrBadDigest, got %v", digest, err)
		}
	}
}
