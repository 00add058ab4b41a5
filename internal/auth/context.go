package auth

import "context"

type contextKey string

const (
	contextKeyUser  contextKey = "auth.user_id"
	contextKeyEmail contextKey = "auth.email"
	contextKeyRole  contextKey = "auth.role"
	contextKeyToken contextKey = "auth.access_token"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID      string
	Email       string
	Role        Role
	AccessToken string
}

// WithIdentity stores auth identity details in context.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	ctx = context.WithValue(ctx, contextKeyUser, identity.UserID)
	ctx = context.WithValue(ctx, contextKeyEmail, identity.Email)
	ctx = context.WithValue(ctx, contextKeyRole, identity.Role)
	ctx = context.WithValue(ctx, contextKeyToken, identity.AccessToken)
	return ctx
}

// IdentityFromContext returns the caller and whether one was authenticated.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity := Identity{
		UserID:      stringValue(ctx, contextKeyUser),
		Email:       stringValue(ctx, contextKeyEmail),
		Role:        RoleFromContext(ctx),
		AccessToken: stringValue(ctx, contextKeyToken),
	}
	return identity, identity.UserID != ""
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	if role, ok := ctx.Value(contextKeyRole).(Role); ok {
		return role
	}
	return ""
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(key).(string); ok {
		return value
	}
	return ""
}
