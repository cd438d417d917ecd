// Package requestctx carries caller identity through request contexts.
package requestctx

import (
	"context"
	"strings"
)

type actorIDKey struct{}

// WithActorID returns a context that records the acting user or system
// identity. Blank identifiers are stored as empty.
func WithActorID(ctx context.Context, actorID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorIDKey{}, strings.TrimSpace(actorID))
}

// ActorIDFromContext returns the acting identity, or "" when none is set.
func ActorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	actorID, _ := ctx.Value(actorIDKey{}).(string)
	return actorID
}
