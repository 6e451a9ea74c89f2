package reqctx

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

const (
	keyRequestMeta ctxKey = iota
	keyClaims
)

// Origin says which entry point started the unit of work.
type Origin string

const (
	OriginHTTP  Origin = "http"
	OriginEvent Origin = "event"
	OriginJob   Origin = "job"
)

// RequestMeta follows a unit of work across HTTP, NATS and cron boundaries.
// ClientIP and UserAgent are only set for HTTP requests.
type RequestMeta struct {
	RequestID   string
	Origin      Origin
	ClientIP    string
	UserAgent   string
	RequestedAt time.Time
}

func WithRequestMeta(ctx context.Context, meta *RequestMeta) context.Context {
	return context.WithValue(ctx, keyRequestMeta, meta)
}

// WithOrigin starts a fresh meta for work not driven by a request. An empty
// requestID gets a new one.
func WithOrigin(ctx context.Context, origin Origin, requestID string) context.Context {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return WithRequestMeta(ctx, &RequestMeta{
		RequestID:   requestID,
		Origin:      origin,
		RequestedAt: time.Now(),
	})
}

func RequestMetaFromContext(ctx context.Context) (*RequestMeta, bool) {
	meta, ok := ctx.Value(keyRequestMeta).(*RequestMeta)
	return meta, ok && meta != nil
}

// RequestIDFromContext returns "" when no meta is attached.
func RequestIDFromContext(ctx context.Context) string {
	if meta, ok := RequestMetaFromContext(ctx); ok {
		return meta.RequestID
	}
	return ""
}

func OriginFromContext(ctx context.Context) Origin {
	if meta, ok := RequestMetaFromContext(ctx); ok {
		return meta.Origin
	}
	return ""
}
