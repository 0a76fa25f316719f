package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// SanitizeJSON strips markup from every string value of a JSON request
// body before the route handler parses it. Bodies that are not JSON
// objects are left untouched; handlers reject them on their own terms.
// Must run after the body size cap and before route dispatch.
func SanitizeJSON() func(http.Handler) http.Handler {
	policy := bluemonday.StrictPolicy()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasJSONBody(r) {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					writeFail(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				writeFail(w, http.StatusBadRequest, "failed to read request body")
				return
			}
			_ = r.Body.Close()

			var payload any
			if err := json.Unmarshal(body, &payload); err != nil {
				// Not valid JSON; pass through for the handler to reject.
				r.Body = io.NopCloser(bytes.NewReader(body))
				next.ServeHTTP(w, r)
				return
			}

			cleaned := sanitizeValue(policy, payload)
			sanitized, err := json.Marshal(cleaned)
			if err != nil {
				r.Body = io.NopCloser(bytes.NewReader(body))
				next.ServeHTTP(w, r)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(sanitized))
			r.ContentLength = int64(len(sanitized))
			next.ServeHTTP(w, r)
		})
	}
}

func hasJSONBody(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return false
	}
	contentType := r.Header.Get("Content-Type")
	return contentType == "" || strings.HasPrefix(contentType, "application/json")
}

func sanitizeValue(policy *bluemonday.Policy, value any) any {
	switch typed := value.(type) {
	case string:
		return policy.Sanitize(typed)
	case map[string]any:
		for key, nested := range typed {
			typed[key] = sanitizeValue(policy, nested)
		}
		return typed
	case []any:
		for i, nested := range typed {
			typed[i] = sanitizeValue(policy, nested)
		}
		return typed
	default:
		return value
	}
}
