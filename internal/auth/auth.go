// Package auth verifies bearer tokens and resolves the acting user that the
// lock arbitrator evaluates against.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/HerbHall/exhibitdesk/pkg/lock"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// RoleAdministrator grants the lock override.
const RoleAdministrator = "administrator"

// Errors returned by Verify.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the JWT claims exhibitdesk reads.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts the claims into a lock actor. A subject that is not a
// decimal integer yields an actor with an unresolvable identity.
func (c *Claims) Actor() *lock.Actor {
	return &lock.Actor{
		UserID:          lock.ParseUserID(c.Subject),
		IsAdministrator: c.Role == RoleAdministrator,
	}
}

// Verifier validates HS256 tokens.
type Verifier struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewVerifier creates a Verifier. An empty secret is rejected.
func NewVerifier(secret, issuer string, ttl time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Verify parses and validates a raw token.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// Issue mints a token for subject with role. Used by the CLI and tests.
func (v *Verifier) Issue(subject, role string) (string, error) {
	now := v.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

type ctxKey int

const (
	actorKey ctxKey = iota
	tokenKey
)

// WithActor stores actor and the raw token in ctx.
func WithActor(ctx context.Context, actor *lock.Actor, token string) context.Context {
	ctx = context.WithValue(ctx, actorKey, actor)
	return context.WithValue(ctx, tokenKey, token)
}

// ActorFrom returns the request's actor, or nil when unauthenticated.
func ActorFrom(ctx context.Context) *lock.Actor {
	a, _ := ctx.Value(actorKey).(*lock.Actor)
	return a
}

// TokenFrom returns the request's raw bearer token.
func TokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

// BearerToken extracts the token from an Authorization header. WebSocket
// upgrades cannot set headers from a browser, so they may pass the token
// as the access_token query parameter instead.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) >= 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// Middleware authenticates every request except the public paths.
func Middleware(v *Verifier, logger *zap.Logger, public ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(public))
	for _, p := range public {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			raw := BearerToken(r)
			claims, err := v.Verify(raw)
			if err != nil {
				logger.Debug("rejected request", zap.String("path", r.URL.Path), zap.Error(err))
				writeUnauthorized(w, r, err)
				return
			}
			actor := claims.Actor()
			if !actor.UserID.Valid() {
				logger.Warn("token subject is not a numeric user id",
					zap.String("subject", claims.Subject))
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor, raw)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, err error) {
	detail := "invalid bearer token"
	if errors.Is(err, ErrMissingToken) {
		detail = "missing bearer token"
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="exhibitdesk"`)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":     "https://exhibitdesk.dev/problems/unauthorized",
		"title":    http.StatusText(http.StatusUnauthorized),
		"status":   http.StatusUnauthorized,
		"detail":   detail,
		"instance": r.URL.Path,
	})
}
