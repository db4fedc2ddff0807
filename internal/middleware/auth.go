package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
)

type ownerKey struct{}

// ErrNoSubject is returned for a valid token that names no subject.
var ErrNoSubject = errors.New("token has no subject")

// Verifier checks a bearer token and returns the owner id it names.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// HMACVerifier verifies HS256 JWTs signed with a shared secret.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier for tokens signed with secret.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Verify parses and validates raw, returning its subject.
func (v *HMACVerifier) Verify(_ context.Context, raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return "", ErrNoSubject
	}
	return claims.Subject, nil
}

// Issue signs a token for subject that expires after ttl.
func (v *HMACVerifier) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// OIDCVerifier verifies ID tokens issued by an OIDC provider.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers issuer and builds a verifier for its tokens.
// An empty clientID accepts tokens for any audience.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: clientID == "",
	})
	return &OIDCVerifier{verifier: verifier}, nil
}

// Verify validates raw against the provider's keys, returning its subject.
func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (string, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return "", err
	}
	if idToken.Subject == "" {
		return "", ErrNoSubject
	}
	return idToken.Subject, nil
}

// AuthMiddleware authenticates API callers and records their owner id.
type AuthMiddleware struct {
	verifier   Verifier
	certHeader string
}

// NewAuthMiddleware creates a new auth middleware instance. When certHeader is
// set, a client certificate CN forwarded by the ingress in that header is
// accepted in place of a bearer token.
func NewAuthMiddleware(verifier Verifier, certHeader string) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, certHeader: certHeader}
}

// RequireAuth rejects requests without a valid identity with 401.
func (m *AuthMiddleware) RequireAuth(c fiber.Ctx) error {
	if m.certHeader != "" {
		if owner := extractUsernameFromCN(c.Get(m.certHeader)); owner != "" {
			c.Locals(ownerKey{}, owner)
			return c.Next()
		}
	}

	raw := bearerToken(c)
	if raw == "" {
		return unauthorized(c, "missing bearer token")
	}

	owner, err := m.verifier.Verify(c.Context(), raw)
	if err != nil {
		return unauthorized(c, "invalid bearer token")
	}

	c.Locals(ownerKey{}, owner)
	return c.Next()
}

// OwnerID returns the authenticated owner id, or "" outside RequireAuth.
func OwnerID(c fiber.Ctx) string {
	owner, _ := c.Locals(ownerKey{}).(string)
	return owner
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter for EventSource clients that cannot set headers.
func bearerToken(c fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return c.Query("access_token")
}

func unauthorized(c fiber.Ctx, msg string) error {
	c.Set(fiber.HeaderWWWAuthenticate, "Bearer")
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"status": "error",
		"error":  msg,
	})
}

// extractUsernameFromCN pulls the username out of a CN of the form
// "Display Name (username)". Anything else yields "".
func extractUsernameFromCN(cn string) string {
	cn = strings.TrimSpace(cn)
	if !strings.HasSuffix(cn, ")") {
		return ""
	}
	open := strings.LastIndex(cn, "(")
	if open < 0 {
		return ""
	}
	inner := cn[open+1 : len(cn)-1]
	if strings.ContainsAny(inner, "()") {
		return ""
	}
	return strings.TrimSpace(inner)
}
