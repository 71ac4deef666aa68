package api

import "context"

type contextKey string

const (
	ctxKeyOwner     contextKey = "owner"
	ctxKeyRequestID contextKey = "request_id"
)

func withOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ctxKeyOwner, ownerID)
}

// ownerFromCtx returns the owner id bound to this request, or "". Owner
// identity travels in the request context, never in process-global state, so
// concurrent multi-tenant traffic cannot cross-contaminate.
func ownerFromCtx(ctx context.Context) string {
	owner, _ := ctx.Value(ctxKeyOwner).(string)
	return owner
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
