package auth

import "context"

type contextKey string

const contextKeyPrincipal contextKey = "principal"

// Token sources.
const (
	SourceDevice = "device"
	SourceOIDC   = "oidc"
)

// Principal is the authenticated caller of an API request.
type Principal struct {
	Subject string
	Source  string
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKeyPrincipal).(Principal)
	return p, ok
}
