// Package reqctx carries per-unit-of-work data through context.Context.
//
// HTTP middleware stores request metadata and verified token claims. The
// NATS workers and the job scheduler start their own metadata with
// WithOrigin so published events and logs keep a request id either way.
package reqctx
