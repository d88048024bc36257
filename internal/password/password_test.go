package password

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestHashVerifyRoundtrip(t *testing.T) {
	encoded, err := Hash("s3cret-pass", "pepper")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "pbkdf2$120000$") {
		t.Fatalf("unexpected encoding: %s", encoded)
	}
	if !Verify("s3cret-pass", encoded, "pepper") {
		t.Fatalf("expected verification to succeed")
	}
	if Verify("s3cret-pass", encoded, "other-pepper") {
		t.Fatalf("verification must fail with a different pepper")
	}
	if Verify("wrong-pass", encoded, "pepper") {
		t.Fatalf("verification must fail with a different password")
	}
}

func TestVerifyRejectsTamperedHash(t *testing.T) {
	encoded, err := Hash("s3cret-pass", "")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	parts := strings.Split(encoded, "$")
	raw, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		t.Fatalf("decode stored key: %v", err)
	}
	for i := range raw {
		flipped := make([]byte, len(raw))
		copy(flipped, raw)
		flipped[i] ^= 0x01
		parts[3] = base64.RawURLEncoding.EncodeToString(flipped)
		if Verify("s3cret-pass", strings.Join(parts, "$"), "") {
			t.Fatalf("verification succeeded with byte %d flipped", i)
		}
	}
}

func TestVerifyFailsClosedOnMalformedEncoding(t *testing.T) {
	cases := []string{
		"",
		"pbkdf2$120000$onlythreeparts",
		"bcrypt$120000$c2FsdA$aGFzaA",
		"pbkdf2$notanumber$c2FsdA$aGFzaA",
		"pbkdf2$-1$c2FsdA$aGFzaA",
		"pbkdf2$120000$!!!$aGFzaA",
		"pbkdf2$120000$c2FsdA$!!!",
		"pbkdf2$120000$c2FsdA$c2hvcnQ", // derived length mismatch
	}
	for _, encoded := range cases {
		if Verify("any", encoded, "") {
			t.Fatalf("expected failure for %q", encoded)
		}
	}
}

func TestHashSaltsAreUnique(t *testing.T) {
	a, err := Hash("same-password", "")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := Hash("same-password", "")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a == b {
		t.Fatalf("two hashes of the same password must not collide")
	}
	if !Verify("same-password", a, "") || !Verify("same-password", b, "") {
		t.Fatalf("both encodings must verify")
	}
}
