package api

import "context"

type contextKey string

const docIDKey contextKey = "docID"

// DocIDFromContext returns the doc-id header value that docMiddleware stored
// for the request, or "" outside that middleware.
func DocIDFromContext(ctx context.Context) string {
	if v := ctx.Value(docIDKey); v != nil {
		if docID, ok := v.(string); ok {
			return docID
		}
	}

	return ""
}

// withDocID tags a request context with the document it addresses.
func withDocID(ctx context.Context, docID string) context.Context {
	return context.WithValue(ctx, docIDKey, docID)
}
