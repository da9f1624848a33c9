package actorctx

import "context"

type keyType string

const (
	actorIDKey   keyType = "actor_id"
	actorTypeKey keyType = "actor_type"
	requestIDKey keyType = "request_id"
)

// WithActor attaches the already-authenticated actor identity supplied by
// the upstream auth middleware.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = context.WithValue(ctx, actorTypeKey, actorType)
	return context.WithValue(ctx, actorIDKey, actorID)
}

func Actor(ctx context.Context) (actorType, actorID string) {
	if v, ok := ctx.Value(actorTypeKey).(string); ok {
		actorType = v
	}
	if v, ok := ctx.Value(actorIDKey).(string); ok {
		actorID = v
	}
	return actorType, actorID
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
