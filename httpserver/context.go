package httpserver

import "context"

type contextKey string

const tokenClaimsKey contextKey = "httpserver.token_claims"

// WithTokenClaims returns a copy of ctx carrying the caller's claims.
func WithTokenClaims(ctx context.Context, claims *TokenClaims) context.Context {
	return context.WithValue(ctx, tokenClaimsKey, claims)
}

// TokenClaimsFromContext returns the claims stored by Middleware, if any.
func TokenClaimsFromContext(ctx context.Context) (*TokenClaims, bool) {
	claims, ok := ctx.Value(tokenClaimsKey).(*TokenClaims)
	return claims, ok && claims != nil
}
