package httpapi

import (
	"net/http"
	"strings"

	"github.com/glyphic-ai/render-api/internal/domain"
)

// SubjectResolver maps an API key to the subject it belongs to.
// Authentication proper (key issuance, plans, sessions) lives outside
// this service; admission only needs a stable subject to attribute
// counters to.
type SubjectResolver interface {
	Resolve(apiKey string) (domain.SubjectID, bool)
}

// NewAuthMiddleware requires X-Api-Key on all in-spec endpoints and
// stores the resolved subject in request context.
func NewAuthMiddleware(resolver SubjectResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Health probes are unauthenticated.
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get("X-Api-Key"))
			if key == "" {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing X-Api-Key header", nil)
				return
			}
			sub, ok := resolver.Resolve(key)
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unknown api key", nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), sub)))
		})
	}
}

// KeyIsSubjectResolver treats the API key itself as the subject.
// Useful for local runs and tests where no key registry exists.
type KeyIsSubjectResolver struct{}

func (KeyIsSubjectResolver) Resolve(apiKey string) (domain.SubjectID, bool) {
	return domain.SubjectID(apiKey), apiKey != ""
}
