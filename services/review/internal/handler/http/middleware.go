package http

import (
	"mime"
	"net/http"

	apperrors "github.com/localguide/reviews/pkg/errors"
	"github.com/localguide/reviews/pkg/httputil"
)

// ContentTypeJSON enforces that requests carrying a body declare
// Content-Type: application/json. Parameters such as charset are accepted.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasBody := r.ContentLength != 0 && r.Body != nil && r.Body != http.NoBody
		if hasBody && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
			mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mediaType != "application/json" {
				httputil.WriteError(w, r, apperrors.UnsupportedMediaType("Content-Type must be application/json"), nil)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
