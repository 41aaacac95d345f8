package auth

import (
	"errors"
	"testing"
	"time"
)

func TestMintAndVerify(t *testing.T) {
	issuer := NewIssuer("bus-key", time.Minute)
	verifier := NewVerifier("bus-key")

	token, err := issuer.Mint("biz_1")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	tenantID, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if tenantID != "biz_1" {
		t.Errorf("Verify() tenant = %q, want %q", tenantID, "biz_1")
	}
}

func TestMintRequiresTenant(t *testing.T) {
	issuer := NewIssuer("bus-key", time.Minute)
	if _, err := issuer.Mint(""); !errors.Is(err, ErrMissingTenant) {
		t.Errorf("Mint(\"\") error = %v, want ErrMissingTenant", err)
	}
}

func TestVerifyRejections(t *testing.T) {
	issuer := NewIssuer("bus-key", time.Minute)
	good, err := issuer.Mint("biz_1")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	expiredIssuer := NewIssuer("bus-key", -time.Minute)
	expired, err := expiredIssuer.Mint("biz_1")
	if err != nil {
		t.Fatalf("Mint() expired error = %v", err)
	}

	tests := []struct {
		name  string
		key   string
		token string
	}{
		{name: "wrong key", key: "other-key", token: good},
		{name: "expired token", key: "bus-key", token: expired},
		{name: "garbage token", key: "bus-key", token: "not.a.jwt"},
		{name: "empty token", key: "bus-key", token: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewVerifier(tt.key).Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}
