package health

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestParseBearerSubjectReadsSubjectWithoutVerifying(t *testing.T) {
	claims := bearerClaims{
		Subject: "relay-client-42",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("any-secret-the-relay-chose"))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}

	got, err := ParseBearerSubject(signed)
	if err != nil {
		t.Fatalf("ParseBearerSubject: %v", err)
	}
	if got != "relay-client-42" {
		t.Fatalf("expected subject %q, got %q", "relay-client-42", got)
	}
}

func TestParseBearerSubjectRejectsGarbage(t *testing.T) {
	if _, err := ParseBearerSubject("not-a-jwt"); err == nil {
		t.Fatalf("expected an error parsing a non-JWT string")
	}
}
