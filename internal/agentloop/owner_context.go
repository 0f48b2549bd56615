package agentloop

import (
	"context"

	"github.com/google/uuid"
)

type ownerContextKey struct{}

// WithOwner scopes every tool execution under ctx to one owner. Tools must
// refuse to run without it; the owner id never travels through model-visible
// arguments.
func WithOwner(ctx context.Context, ownerID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ownerContextKey{}, ownerID)
}

func OwnerFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	owner, ok := ctx.Value(ownerContextKey{}).(uuid.UUID)
	if !ok || owner == uuid.Nil {
		return uuid.Nil, false
	}
	return owner, true
}
