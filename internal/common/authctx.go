package common

import "context"

type ctxKey string

const actorIDKey ctxKey = "auth/actor-id"

// WithActorID stores the authenticated operator identifier on the provided context.
func WithActorID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, actorIDKey, id)
}

// ActorID extracts the authenticated operator identifier from the context if present.
func ActorID(ctx context.Context) (string, bool) {
	v := ctx.Value(actorIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

const actorRoleKey ctxKey = "auth/actor-role"

// WithActorRole stores the operator's role on the provided context.
func WithActorRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, actorRoleKey, role)
}

// ActorRole returns the operator's role, or "" when unauthenticated.
func ActorRole(ctx context.Context) string {
	role, _ := ctx.Value(actorRoleKey).(string)
	return role
}
