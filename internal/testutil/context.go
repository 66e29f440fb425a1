package testutil

import (
	"context"

	"github.com/eka-ai/billing/internal/types"
)

// SetupContext returns a request-scoped context the way the HTTP
// middleware would build it.
func SetupContext(userID string) context.Context {
	ctx := context.Background()
	ctx = context.WithValue(ctx, types.CtxUserID, userID)
	ctx = context.WithValue(ctx, types.CtxRequestID, types.GenerateUUID())
	return ctx
}
