package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "mines-desktop"

// Authenticator issues and checks HS256 bearer tokens bound to one session.
type Authenticator struct {
	key       []byte
	sessionID string
	ttl       time.Duration
	now       func() time.Time
}

// NewAuthenticator returns an Authenticator signing with key.
func NewAuthenticator(key []byte, sessionID string, ttl time.Duration) (*Authenticator, error) {
	if len(key) < 32 {
		return nil, errors.New("api: signing key must be at least 32 bytes")
	}
	if sessionID == "" {
		return nil, errors.New("api: session id is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{key: key, sessionID: sessionID, ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token and its expiry.
func (a *Authenticator) Issue() (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   a.sessionID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Verify checks signature, issuer, subject and expiry.
func (a *Authenticator) Verify(raw string) error {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return a.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithSubject(a.sessionID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	return err
}

// Middleware rejects requests without a valid token. Browsers cannot set
// headers on a websocket handshake, so an access_token query parameter is
// accepted as well.
func (a *Authenticator) Middleware(eh *ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				eh.HandleError(w, r, NewError(ErrTypeUnauthorized, "missing bearer token").
					WithRequestID(middleware.GetReqID(r.Context())).
					Build())
				return
			}
			if err := a.Verify(raw); err != nil {
				eh.HandleError(w, r, NewError(ErrTypeUnauthorized, "invalid token").
					WithRequestID(middleware.GetReqID(r.Context())).
					WithCause(err).
					Build())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}
