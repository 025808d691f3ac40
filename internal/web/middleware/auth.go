package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// OperatorTokenHeader carries the operator token as an alternative to a
// bearer Authorization header.
const OperatorTokenHeader = "X-Operator-Token"

// RequireOperator guards operator actions (overrides, enrollment, manual
// sync). An empty token leaves the routes open, which is the default for a
// kiosk bound to localhost.
func RequireOperator(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(OperatorTokenHeader)
			if got == "" {
				got, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
