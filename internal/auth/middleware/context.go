package auth

import "context"

type ctxKey struct{}

var ctxKeySub = ctxKey{}

// WithSubject stores the authenticated user id on the context. The JWT
// middleware populates it; handlers read it to attribute submissions
// and reviews.
func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, ctxKeySub, sub)
}

func SubjectFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxKeySub); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
