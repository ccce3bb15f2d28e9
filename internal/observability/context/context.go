// Package context carries request-scoped correlation identifiers so logs
// and traces emitted anywhere in the pipeline can be stitched back to
// the inbound request or the upload being processed.
package context

import "context"

type requestIDKey struct{}
type uploadIDKey struct{}
type jobIDKey struct{}

// WithRequestID attaches the inbound request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithUploadID attaches the upload an operation is working on.
func WithUploadID(ctx context.Context, uploadID string) context.Context {
	return context.WithValue(ctx, uploadIDKey{}, uploadID)
}

// UploadIDFromContext returns the upload id, or "".
func UploadIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(uploadIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithJobID attaches the queue job run id.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

// JobIDFromContext returns the job run id, or "".
func JobIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(jobIDKey{}).(string); ok {
		return v
	}
	return ""
}
