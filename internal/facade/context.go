package facade

import "context"

// withActor and actorFrom stash the bearer token's validated "sub"
// claim (the acting operator) across the façade's middleware boundary.
func withActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}
