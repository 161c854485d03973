package engine

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/harborlight/gatelock/internal/config"
)

// AuthGuard verifies bearer tokens against the signing secret and API
// keys against the configured list. Stateless after construction; safe
// for concurrent use.
type AuthGuard struct {
	enabled     bool
	require     bool
	secret      []byte
	plainKeys   [][]byte // plaintext api_keys entries, compared constant-time
	hashedKeys  [][]byte // bcrypt entries, recognized by the "$2" prefix
	tokenExpiry time.Duration
}

// NewAuthGuard builds a guard from the auth config section.
func NewAuthGuard(cfg config.AuthConfig) *AuthGuard {
	g := &AuthGuard{
		enabled:     cfg.Enabled,
		require:     cfg.RequireAuth,
		tokenExpiry: time.Duration(cfg.TokenExpirySeconds) * time.Second,
	}
	if cfg.SigningSecret != "" {
		g.secret = []byte(cfg.SigningSecret)
	}
	for _, k := range cfg.APIKeys {
		if strings.HasPrefix(k, "$2") {
			g.hashedKeys = append(g.hashedKeys, []byte(k))
		} else {
			g.plainKeys = append(g.plainKeys, []byte(k))
		}
	}
	return g
}

// ExtractIdentity returns a best-effort identity before verification:
// the bearer token's subject claim via an unverified parse, or an API
// key fingerprint. It feeds per-user rate keys and audit fields for
// requests that never reach the auth stage; the auth stage replaces it
// with a verified identity when it runs.
func (g *AuthGuard) ExtractIdentity(view *requestView) string {
	if raw := bearerToken(view.headers); raw != "" {
		claims := &jwt.RegisteredClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err == nil && claims.Subject != "" {
			return claims.Subject
		}
		return keyFingerprint(raw)
	}
	if key := view.headers.Get("X-API-Key"); key != "" {
		return keyFingerprint(key)
	}
	return ""
}

// MintToken signs a bearer token for identity, valid for ttl. Intended
// for operator tooling and tests; the engine itself only verifies.
func (g *AuthGuard) MintToken(identity string, ttl time.Duration) (string, error) {
	if len(g.secret) == 0 {
		return "", errors.New("no signing secret configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   identity,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

// verifyToken validates a bearer token's signature and lifetime and
// returns the identity it asserts.
func (g *AuthGuard) verifyToken(raw string) (string, error) {
	if len(g.secret) == 0 {
		return "", errors.New("no signing secret configured")
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return "", err
	}

	// exp and nbf are enforced by the parser. Additionally bound the
	// lifetime from issuance so a distant exp claim cannot stretch a
	// token past the configured expiry.
	switch {
	case claims.IssuedAt != nil:
		if time.Since(claims.IssuedAt.Time) > g.tokenExpiry {
			return "", errors.New("token older than configured expiry")
		}
	case claims.ExpiresAt == nil:
		return "", errors.New("token carries neither iat nor exp")
	}

	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return "bearer", nil
}

// verifyAPIKey checks presented against each configured key: bcrypt for
// hashed entries, constant-time equality for plaintext ones.
func (g *AuthGuard) verifyAPIKey(presented string) bool {
	p := []byte(presented)
	for _, k := range g.plainKeys {
		if subtle.ConstantTimeCompare(k, p) == 1 {
			return true
		}
	}
	for _, h := range g.hashedKeys {
		if bcrypt.CompareHashAndPassword(h, p) == nil {
			return true
		}
	}
	return false
}

// bearerToken extracts the credential from an Authorization header with
// a Bearer scheme. Returns "" for other schemes or no header.
func bearerToken(h http.Header) string {
	auth := strings.TrimSpace(h.Get("Authorization"))
	const prefix = "bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}

// keyFingerprint identifies an API key in rate keys and audit fields
// without exposing the key itself.
func keyFingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "key:" + hex.EncodeToString(sum[:4])
}

// checkAuth verifies presented credentials. Bearer tokens are tried as
// signed tokens first, then as API keys, so clients may send keys via
// either the Authorization or X-API-Key header. A disabled guard skips
// verification entirely, no matter what require_auth says. With the
// guard enabled and require_auth unset the stage is advisory: valid
// credentials still yield an identity, but nothing is blocked.
func (e *Engine) checkAuth(view *requestView) (verdict, string) {
	g := e.auth
	if !g.enabled {
		return verdict{}, ""
	}

	if raw := bearerToken(view.headers); raw != "" {
		if identity, err := g.verifyToken(raw); err == nil {
			return verdict{}, identity
		}
		if g.verifyAPIKey(raw) {
			return verdict{}, keyFingerprint(raw)
		}
		if g.require {
			return blockVerdict("auth", http.StatusUnauthorized, "unauthorized"), ""
		}
		return verdict{}, ""
	}

	if key := view.headers.Get("X-API-Key"); key != "" {
		if g.verifyAPIKey(key) {
			return verdict{}, keyFingerprint(key)
		}
		if g.require {
			return blockVerdict("auth", http.StatusUnauthorized, "unauthorized"), ""
		}
		return verdict{}, ""
	}

	if g.require {
		return blockVerdict("auth", http.StatusUnauthorized, "unauthorized"), ""
	}
	return verdict{}, ""
}
