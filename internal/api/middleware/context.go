package middleware

import (
	"context"
	"net/http"

	"github.com/arcaelas/mcp/pkg/models"
	"github.com/google/uuid"
)

type principalKey struct{}

// Principal is the API key a request authenticated with.
type Principal struct {
	KeyID     uuid.UUID
	KeyPrefix string
	Scopes    []string
}

// HasScope reports whether the principal may use scope.
func (p Principal) HasScope(scope string) bool {
	key := models.APIKey{Scopes: p.Scopes}
	return key.HasScope(scope)
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// GetKeyID returns the ID of the API key that authenticated the request.
func GetKeyID(r *http.Request) (uuid.UUID, bool) {
	p, ok := PrincipalFrom(r.Context())
	return p.KeyID, ok
}
