package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the acting identity in context. Identity is
// established by an upstream gateway; this layer only propagates it.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting identity, or "" when anonymous.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	return actor
}
