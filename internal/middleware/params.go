package middleware

import (
	"net/http"
	"net/url"
)

// DedupeQueryParams is the parameter-pollution guard: when a query key is
// repeated it keeps only the last value, unless the key is whitelisted as
// a legitimate multi-value filter field. No Go library covers this; it is
// a few lines over net/url.
func DedupeQueryParams(whitelist ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(whitelist))
	for _, key := range whitelist {
		allowed[key] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query := r.URL.Query()
			deduped := url.Values{}
			for key, values := range query {
				if allowed[key] || len(values) <= 1 {
					deduped[key] = values
					continue
				}
				deduped[key] = values[len(values)-1:]
			}
			r.URL.RawQuery = deduped.Encode()
			next.ServeHTTP(w, r)
		})
	}
}
