package auth

import "context"

type ctxKey string

const claimsKey ctxKey = "auth_claims"

// ContextWithClaims stores the verified claim set in the request context.
func ContextWithClaims(ctx context.Context, claims ClaimSet) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext extracts the verified claim set from context.
func ClaimsFromContext(ctx context.Context) (ClaimSet, bool) {
	claims, ok := ctx.Value(claimsKey).(ClaimSet)
	if !ok || claims.SubjectID == "" {
		return ClaimSet{}, false
	}
	return claims, true
}
