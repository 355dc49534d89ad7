package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Verifier resolves a bearer token to the owning identity. Identity
// management itself is an external collaborator; the API only needs the
// token -> owner mapping.
type Verifier interface {
	Owner(token string) (uuid.UUID, error)
}

// StaticVerifier maps fixed tokens to owners, configured as
// "token:owner-uuid" pairs. Used for service-to-service wiring and
// tests.
type StaticVerifier struct {
	owners map[string]uuid.UUID
}

// ParseStaticVerifier parses a comma-separated "token:owner-uuid" list.
func ParseStaticVerifier(spec string) (*StaticVerifier, error) {
	v := &StaticVerifier{owners: make(map[string]uuid.UUID)}
	if strings.TrimSpace(spec) == "" {
		return v, nil
	}
	for _, pair := range strings.Split(spec, ",") {
		token, rawOwner, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || token == "" {
			return nil, fmt.Errorf("malformed token pair %q", pair)
		}
		owner, err := uuid.Parse(rawOwner)
		if err != nil {
			return nil, fmt.Errorf("malformed owner in pair %q: %w", pair, err)
		}
		v.owners[token] = owner
	}
	return v, nil
}

func (v *StaticVerifier) Owner(token string) (uuid.UUID, error) {
	owner, ok := v.owners[token]
	if !ok {
		return uuid.Nil, fmt.Errorf("unknown token")
	}
	return owner, nil
}

type ctxKey int

const ownerKey ctxKey = 0

// BearerAuthMiddleware rejects requests without a resolvable bearer
// token and stashes the owner identity in the request context.
func BearerAuthMiddleware(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				respondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			owner, err := verifier.Owner(token)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), ownerKey, owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ownerFrom(r *http.Request) uuid.UUID {
	owner, _ := r.Context().Value(ownerKey).(uuid.UUID)
	return owner
}
