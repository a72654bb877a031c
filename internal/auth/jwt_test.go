package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

func TestNewTokenService_ShortSecret(t *testing.T) {
	if _, err := NewTokenService("short"); err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

func TestGenerate_LooksLikeJWT(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate("user-123", "a@x.com", RoleAuthenticated)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got := strings.Count(token, "."); got != 2 {
		t.Errorf("token has %d dots, want 2", got)
	}
}

func TestValidate_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate("user-abc", "a@x.com", RoleAdmin)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	c, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if c.Subject != "user-abc" || c.Email != "a@x.com" {
		t.Errorf("claims = %+v, want sub user-abc and email a@x.com", c)
	}
	if !c.Privileged() {
		t.Error("admin role should be privileged")
	}
}

func TestValidate_Rejects(t *testing.T) {
	ts := newTestTokenService(t)
	other, _ := NewTokenService("wrong-secret-32-chars-long!!!!!!")

	good, _ := ts.Generate("user-123", "a@x.com", RoleAuthenticated)
	expired, _ := ts.GenerateWithDuration("user-123", "a@x.com", RoleAuthenticated, -time.Second)
	foreign, _ := other.Generate("user-123", "a@x.com", RoleAuthenticated)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"tampered signature", good[:len(good)-3] + "xxx"},
		{"signed with another secret", foreign},
		{"empty", ""},
		{"garbage", "not.a.jwt.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ts.Validate(tt.token); err == nil {
				t.Fatal("Validate() should fail")
			}
		})
	}

	if _, err := ts.Validate(expired); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired token error = %v, want ErrTokenExpired", err)
	}
}

func TestInspectToken_ReadsClaimsWithoutSecret(t *testing.T) {
	ts := newTestTokenService(t)
	token, _ := ts.GenerateWithDuration("user-9", "b@x.com", RoleAuthenticated, 30*time.Minute)

	c, err := InspectToken(token)
	if err != nil {
		t.Fatalf("InspectToken() error = %v", err)
	}
	if c.Subject != "user-9" || c.Email != "b@x.com" {
		t.Errorf("claims = %+v", c)
	}
	if c.Privileged() {
		t.Error("authenticated role should not be privileged")
	}
	if until := time.Until(c.Expiry()); until < 29*time.Minute || until > 31*time.Minute {
		t.Errorf("Expiry() is %v away, want ~30m", until)
	}
}

func TestInspectToken_Garbage(t *testing.T) {
	if _, err := InspectToken("opaque-token"); err == nil {
		t.Fatal("InspectToken() should fail on a non-JWT")
	}
}

func TestWithTTL(t *testing.T) {
	ts := newTestTokenService(t)
	short := ts.WithTTL(2 * time.Minute)

	if short.TTL() != 2*time.Minute {
		t.Errorf("TTL() = %v, want 2m", short.TTL())
	}
	if ts.TTL() != DefaultTokenTTL {
		t.Errorf("original TTL changed to %v", ts.TTL())
	}

	token, err := short.Generate("user-1", "a@x.com", RoleAuthenticated)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	claims, err := InspectToken(token)
	if err != nil {
		t.Fatalf("InspectToken() error = %v", err)
	}
	if left := time.Until(claims.Expiry()); left > 2*time.Minute || left < time.Minute {
		t.Errorf("expiry in %v, want about 2m", left)
	}
}

func TestGenerate_UniquePerCall(t *testing.T) {
	ts := newTestTokenService(t)

	a, err := ts.Generate("user-1", "a@x.com", RoleAuthenticated)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	b, err := ts.Generate("user-1", "a@x.com", RoleAuthenticated)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if a == b {
		t.Error("two tokens for the same user in the same second are identical")
	}
}
