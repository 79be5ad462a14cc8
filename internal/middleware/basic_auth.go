package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// CredentialChecker validates basic-auth credentials
type CredentialChecker interface {
	Authenticate(username, password string) bool
}

// StaticCredentials accepts exactly one username/password pair
type StaticCredentials struct {
	Username string
	Password string
}

// Authenticate implements CredentialChecker
func (s StaticCredentials) Authenticate(username, password string) bool {
	u := subtle.ConstantTimeCompare([]byte(username), []byte(s.Username))
	p := subtle.ConstantTimeCompare([]byte(password), []byte(s.Password))
	return u&p == 1
}

// BasicAuth rejects requests without valid basic-auth credentials
func BasicAuth(realm string, checker CredentialChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok || !checker.Authenticate(username, password) {
				w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{
					"error":  "unauthorized",
					"reason": "name or password is incorrect",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
