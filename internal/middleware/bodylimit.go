package middleware

import (
	"encoding/json"
	"net/http"
)

// LimitJSONBody caps JSON request bodies at maxBytes. Multipart uploads
// are exempt; they carry their own, larger limits at the handler that
// parses them.
func LimitJSONBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hasJSONBody(r) {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeFail(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "fail",
		"message": message,
	})
}
