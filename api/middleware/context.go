package middleware

import (
	"context"

	"github.com/google/uuid"
)

// caller is the authenticated principal attached by Auth.
type caller struct {
	accountID string
	email     string
	admin     bool
}

type callerKey struct{}

func callerFrom(ctx context.Context) caller {
	if ctx == nil {
		return caller{}
	}
	c, _ := ctx.Value(callerKey{}).(caller)
	return c
}

func AccountIDFromContext(ctx context.Context) string {
	return callerFrom(ctx).accountID
}

// AccountUUIDFromContext reports false when no valid account id is attached.
func AccountUUIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(AccountIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func EmailFromContext(ctx context.Context) string {
	return callerFrom(ctx).email
}

func IsAdminFromContext(ctx context.Context) bool {
	return callerFrom(ctx).admin
}

func WithIdentity(ctx context.Context, accountID, email string, admin bool) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerKey{}, caller{accountID: accountID, email: email, admin: admin})
}
