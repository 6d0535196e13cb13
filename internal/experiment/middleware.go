package experiment

import (
	"context"
	"net/http"
	"strings"
)

type assignmentKey struct{}

// ContextWithAssignment attaches an assignment to ctx.
func ContextWithAssignment(ctx context.Context, a Assignment) context.Context {
	return context.WithValue(ctx, assignmentKey{}, a)
}

// AssignmentFromContext returns the assignment attached by Middleware.
// ok is false when the request bypassed assignment.
func AssignmentFromContext(ctx context.Context) (Assignment, bool) {
	a, ok := ctx.Value(assignmentKey{}).(Assignment)
	return a, ok
}

// Middleware assigns a variant to every request before the next handler runs.
// It never short-circuits: unavailable assignments are attached as-is and the
// handler decides how to respond. Requests whose path starts with one of
// skipPaths are passed through without an assignment.
func Middleware(assigner *Assigner, skipPaths []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSkipped(r.URL.Path, skipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			assignment := assigner.Assign(r.Context())
			next.ServeHTTP(w, r.WithContext(ContextWithAssignment(r.Context(), assignment)))
		})
	}
}

func isSkipped(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
