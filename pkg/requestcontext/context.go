// Package requestcontext provides transport-independent context accessors for
// request-scoped values.
//
// This package defines context keys and getter/setter functions for values
// that are typically set at the boundary but consumed by services: the acting
// user, the organisation the request is scoped to, a request id for
// correlation, and the request time. Keeping it free of net/http dependencies
// means services import only what they need.
//
// Usage in services (read values):
//
//	actor := requestcontext.UserID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithUserID(ctx, actorID)
package requestcontext

import (
	"context"
	"time"

	id "packreg/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	userIDKey         struct{}
	organisationIDKey struct{}
	requestIDKey      struct{}
	requestTimeKey    struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyUserID         = userIDKey{}
	ContextKeyOrganisationID = organisationIDKey{}
	ContextKeyRequestID      = requestIDKey{}
	ContextKeyRequestTime    = requestTimeKey{}
)

// UserID retrieves the acting user ID from the context.
// Returns the zero value (nil UUID) if not set.
func UserID(ctx context.Context) id.UserID {
	if userID, ok := ctx.Value(ContextKeyUserID).(id.UserID); ok {
		return userID
	}
	return id.UserID{}
}

// WithUserID injects the acting user ID into the context.
func WithUserID(ctx context.Context, userID id.UserID) context.Context {
	return context.WithValue(ctx, ContextKeyUserID, userID)
}

// OrganisationID retrieves the organisation the request is scoped to.
// Returns the zero value (nil UUID) if not set.
func OrganisationID(ctx context.Context) id.OrganisationID {
	if orgID, ok := ctx.Value(ContextKeyOrganisationID).(id.OrganisationID); ok {
		return orgID
	}
	return id.OrganisationID{}
}

// WithOrganisationID injects the request's organisation scope into the context.
func WithOrganisationID(ctx context.Context, orgID id.OrganisationID) context.Context {
	return context.WithValue(ctx, ContextKeyOrganisationID, orgID)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (for workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for service unit
// tests and for keeping every timestamp within one operation identical.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
