package swapbase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/atomicbridge/swapserver/internal/models"
)

type requestIDKey struct{}

// NewRequestID mints a trace id for one inbound request, used to thread a
// single identifier through its logs and into the swap record it creates
// (spec.md §3 Metadata.RequestID).
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID attaches id to ctx for later retrieval by RequestIDFromContext.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the trace id attached by WithRequestID, or
// "" if none was attached (e.g. a watchdog or event-router call, which has
// no originating HTTP request).
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// NewMetadata stamps a freshly created swap's Metadata with the request
// that created it and the moment it was received, the first of the timing
// marks a handler fills in as the swap progresses (spec.md §3). Extra
// carries a base58 compact form of the payment hash alongside the
// canonical hex id, for log lines that favor brevity over exactness.
func (b *SwapHandlerBase) NewMetadata(ctx context.Context, id models.SwapIdentity) models.Metadata {
	return models.Metadata{
		RequestReceived: time.Now().Unix(),
		RequestID:       RequestIDFromContext(ctx),
		Extra:           map[string]string{"compactId": id.PaymentHash.Compact()},
	}
}
