// Package auth verifies session tokens and carries the caller identity in the
// request context.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// DefaultCookieName is the cookie the web front end stores the token in.
const DefaultCookieName = "jwt"

// ErrUnauthorized is returned for a missing or invalid token.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Roles  []string
}

// Claims is the token payload.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens signed with a shared secret.
type Verifier struct {
	secret     []byte
	cookieName string
	parser     *jwt.Parser
}

// NewVerifier creates a Verifier. An empty cookieName selects
// DefaultCookieName.
func NewVerifier(secret, cookieName string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Verifier{
		secret:     []byte(secret),
		cookieName: cookieName,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(30*time.Second),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Verify parses raw and returns the identity it asserts.
func (v *Verifier) Verify(raw string) (Identity, error) {
	var claims Claims
	if _, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return Identity{}, errors.Wrap(ErrUnauthorized, err.Error())
	}
	if claims.Subject == "" {
		return Identity{}, errors.Wrap(ErrUnauthorized, "token has no subject")
	}
	return Identity{UserID: claims.Subject, Roles: claims.Roles}, nil
}

// Issue signs a token for userID valid for ttl.
func (v *Verifier) Issue(userID string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// FromRequest extracts the token from the Authorization bearer header or,
// failing that, from the session cookie.
func (v *Verifier) FromRequest(r *http.Request) (Identity, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return Identity{}, errors.Wrap(ErrUnauthorized, "unsupported authorization scheme")
		}
		return v.Verify(strings.TrimSpace(raw))
	}
	c, err := r.Cookie(v.cookieName)
	if err != nil || c.Value == "" {
		return Identity{}, errors.Wrap(ErrUnauthorized, "no token")
	}
	return v.Verify(c.Value)
}

// Require rejects requests without a valid token with 401 and stores the
// identity in the context of the others.
func (v *Verifier) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := v.FromRequest(r)
		if err != nil {
			zctx.From(r.Context()).Debug("Rejected unauthenticated request", zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="shop"`)
			writeUnauthorized(w)
			return
		}
		ctx := WithIdentity(r.Context(), id)
		ctx = zctx.With(ctx, zap.String("user_id", id.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(http.StatusUnauthorized)
	e.FieldStart("message")
	e.Str("unauthorized")
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write(e.Bytes())
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by Require.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
