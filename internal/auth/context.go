package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/ndt-connect/marketplace-api/internal/lifecycle"
)

// UserContext holds authenticated user information
type UserContext struct {
	UserID      uuid.UUID
	DisplayName string
	Email       string
	Role        domain.Role
}

type contextKey string

const userContextKey contextKey = "userContext"

// WithUserContext adds user context to the context
func WithUserContext(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// FromContext extracts user context from the context
func FromContext(ctx context.Context) (*UserContext, bool) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	return user, ok
}

// MustFromContext extracts user context or panics
func MustFromContext(ctx context.Context) *UserContext {
	user, ok := FromContext(ctx)
	if !ok {
		panic("user context not found in context")
	}
	return user
}

// HasAnyRole checks if user has any of the specified roles
func (u *UserContext) HasAnyRole(roles ...domain.Role) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

func (u *UserContext) IsAdmin() bool {
	return u.Role == domain.RoleAdmin
}

// Actor converts the user into the identity the lifecycle guards check
func (u *UserContext) Actor() lifecycle.Actor {
	return lifecycle.Actor{ID: u.UserID, Role: u.Role}
}
