// Package testutil provides common helpers for service and store tests.
package testutil

import (
	"context"
	"time"

	id "packreg/pkg/domain"
	"packreg/pkg/requestcontext"
)

// FixedTime is the deterministic clock most tests pin the request time to.
var FixedTime = time.Date(2025, time.March, 12, 9, 30, 0, 0, time.UTC)

// Context returns a request-scoped context with a fixed clock and request id,
// so assertions on timestamps and audit stamps are deterministic.
func Context() context.Context {
	ctx := requestcontext.WithTime(context.Background(), FixedTime)
	return requestcontext.WithRequestID(ctx, "test-request")
}

// ContextAt is Context with an explicit request time.
func ContextAt(at time.Time) context.Context {
	ctx := requestcontext.WithTime(context.Background(), at)
	return requestcontext.WithRequestID(ctx, "test-request")
}

// ContextFor is Context with the acting user attached.
func ContextFor(userID id.UserID) context.Context {
	return requestcontext.WithUserID(Context(), userID)
}
