package web

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/makt28/vigil/internal/model"
)

const tokenIssuer = "vigil"

// CheckerClaims are carried by the tokens regional checkers present when
// reporting results. A token is only valid for the region it names.
type CheckerClaims struct {
	jwt.RegisteredClaims
	Region model.Region `json:"region"`
}

// IssueCheckerToken signs a token for region. A zero ttl issues a token
// without expiry.
func IssueCheckerToken(secret string, region model.Region, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("empty signing secret")
	}
	if !region.Valid() {
		return "", fmt.Errorf("%w: %q", model.ErrInvalidRegion, region)
	}

	now := time.Now()
	claims := CheckerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   tokenIssuer,
			Subject:  "checker:" + string(region),
			IssuedAt: jwt.NewNumericDate(now),
		},
		Region: region,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing checker token: %w", err)
	}
	return signed, nil
}

// ParseCheckerToken verifies token and returns its claims.
func ParseCheckerToken(secret, token string) (*CheckerClaims, error) {
	claims := &CheckerClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil {
		return nil, err
	}
	if !claims.Region.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidRegion, claims.Region)
	}
	return claims, nil
}

// KeyRateLimiter tracks failed API key attempts per client IP.
type KeyRateLimiter struct {
	mu              sync.Mutex
	attempts        map[string]*keyAttempt
	maxAttempts     int
	lockoutDuration time.Duration
}

type keyAttempt struct {
	failCount int
	lockedAt  time.Time
}

func NewKeyRateLimiter(maxAttempts int, lockout time.Duration, stopCh <-chan struct{}) *KeyRateLimiter {
	rl := &KeyRateLimiter{
		attempts:        make(map[string]*keyAttempt),
		maxAttempts:     maxAttempts,
		lockoutDuration: lockout,
	}
	if stopCh != nil {
		go rl.cleanup(stopCh)
	}
	return rl
}

// IsLocked returns true if the IP is currently locked out.
func (rl *KeyRateLimiter) IsLocked(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	a, ok := rl.attempts[ip]
	if !ok || a.failCount < rl.maxAttempts {
		return false
	}
	if time.Since(a.lockedAt) < rl.lockoutDuration {
		return true
	}
	// Lockout expired, reset
	delete(rl.attempts, ip)
	return false
}

// RecordFailure increments the failure count for an IP.
func (rl *KeyRateLimiter) RecordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	a, ok := rl.attempts[ip]
	if !ok {
		a = &keyAttempt{}
		rl.attempts[ip] = a
	}
	a.failCount++
	if a.failCount >= rl.maxAttempts {
		a.lockedAt = time.Now()
	}
}

// ClearIP removes the failure record for an IP after a valid key.
func (rl *KeyRateLimiter) ClearIP(ip string) {
	rl.mu.Lock()
	delete(rl.attempts, ip)
	rl.mu.Unlock()
}

func (rl *KeyRateLimiter) cleanup(stopCh <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, a := range rl.attempts {
				if a.failCount < rl.maxAttempts || time.Since(a.lockedAt) >= rl.lockoutDuration {
					delete(rl.attempts, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// clientIP strips the port from RemoteAddr. Forwarding headers are ignored
// since any client can set them.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
