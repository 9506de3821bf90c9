package web

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/makt28/vigil/internal/model"
)

func TestCheckerTokenRoundTrip(t *testing.T) {
	tok, err := IssueCheckerToken(testSecret, "fra", time.Minute)
	if err != nil {
		t.Fatalf("IssueCheckerToken() error = %v", err)
	}
	claims, err := ParseCheckerToken(testSecret, tok)
	if err != nil {
		t.Fatalf("ParseCheckerToken() error = %v", err)
	}
	if claims.Region != "fra" || claims.Subject != "checker:fra" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseCheckerTokenRejects(t *testing.T) {
	expired := CheckerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Region: "ams",
	}
	badRegion := CheckerClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer},
		Region:           "mars",
	}
	good := CheckerClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer},
		Region:           "ams",
	}
	otherIssuer := CheckerClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
		Region:           "ams",
	}
	sign := func(c CheckerClaims, method jwt.SigningMethod, key any) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, c).SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	tests := []struct {
		name  string
		token string
	}{
		{"expired", sign(expired, jwt.SigningMethodHS256, []byte(testSecret))},
		{"unknown region", sign(badRegion, jwt.SigningMethodHS256, []byte(testSecret))},
		{"other issuer", sign(otherIssuer, jwt.SigningMethodHS256, []byte(testSecret))},
		{"hs512", sign(good, jwt.SigningMethodHS512, []byte(testSecret))},
		{"unsigned", sign(good, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCheckerToken(testSecret, tt.token); err == nil {
				t.Fatal("ParseCheckerToken() error = nil")
			}
		})
	}
}

func TestIssueCheckerTokenValidates(t *testing.T) {
	if _, err := IssueCheckerToken("", "ams", 0); err == nil {
		t.Error("empty secret accepted")
	}
	if _, err := IssueCheckerToken(testSecret, "mars", 0); !errors.Is(err, model.ErrInvalidRegion) {
		t.Errorf("error = %v, want ErrInvalidRegion", err)
	}
}

func TestKeyRateLimiter(t *testing.T) {
	rl := NewKeyRateLimiter(2, 50*time.Millisecond, nil)

	rl.RecordFailure("10.0.0.1")
	if rl.IsLocked("10.0.0.1") {
		t.Fatal("locked after one failure")
	}
	rl.RecordFailure("10.0.0.1")
	if !rl.IsLocked("10.0.0.1") {
		t.Fatal("not locked after max failures")
	}
	if rl.IsLocked("10.0.0.2") {
		t.Fatal("lockout leaked to another IP")
	}

	time.Sleep(60 * time.Millisecond)
	if rl.IsLocked("10.0.0.1") {
		t.Fatal("still locked after lockout expired")
	}

	rl.RecordFailure("10.0.0.3")
	rl.ClearIP("10.0.0.3")
	rl.RecordFailure("10.0.0.3")
	if rl.IsLocked("10.0.0.3") {
		t.Fatal("ClearIP did not reset the count")
	}
}
