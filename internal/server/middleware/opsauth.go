package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/podx/oracle/internal/token"
)

// opsSubjectKey is the context key OpsAuth stores the verified subject
// under, so handlers can log which operator triggered a reconciliation.
type opsSubjectKeyType struct{}

var opsSubjectKey opsSubjectKeyType

// OpsAuth returns middleware that requires a valid HS256 JWT minted by
// auth's OpsAuthenticator in the Authorization: Bearer header. This guards
// the operator-only reconciliation endpoint; it is a distinct trust
// boundary from the end-user magic-link capability tokens (SPEC_FULL.md §B).
func OpsAuth(auth *token.OpsAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hdr := r.Header.Get("Authorization")
			parts := strings.SplitN(hdr, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeUnauthorized(w, "missing ops bearer token")
				return
			}

			subject, err := auth.Verify(strings.TrimSpace(parts[1]))
			if err != nil {
				writeUnauthorized(w, "invalid ops token")
				return
			}

			ctx := context.WithValue(r.Context(), opsSubjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeUnauthorized writes a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	body, _ := json.Marshal(map[string]string{"error": msg})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write(body)
}

// OpsSubject returns the verified operator subject from a request that
// passed through OpsAuth, or "" if absent.
func OpsSubject(r *http.Request) string {
	subject, _ := r.Context().Value(opsSubjectKey).(string)
	return subject
}
