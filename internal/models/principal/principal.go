package principal

import "context"

// Kind of an account behind a principal.
type Kind string

const (
	Individual Kind = "individual"
	Company    Kind = "company"
)

// Principal is the opaque identity this service consumes. Issuance
// belongs to the identity collaborator; the service only verifies it.
type Principal struct {
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id,omitempty"`
	Kind      Kind   `json:"kind"`
}

// key is an unexported type for keys defined in this package.
// This prevents collisions with keys defined in other packages.
type key int

// principalKey is the key for principal.Principal values in Contexts.
// It is unexported; clients use principal.NewContext and
// principal.FromContext instead of using this key directly.
var principalKey key

// NewContext returns a new Context that carries value p.
func NewContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext returns the Principal value stored in ctx, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}
