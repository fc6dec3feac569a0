package shield

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/knowdash/kit"
)

// BasicAuth requires HTTP Basic credentials matching user and the bcrypt
// passwordHash. An empty user disables the check. The authenticated user is
// stored with kit.WithUser.
func BasicAuth(realm, user, passwordHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if user == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			// Always run bcrypt so a wrong user costs as much as a wrong password.
			pwErr := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(p))
			userOK := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1
			if !ok || !userOK || pwErr != nil {
				GetLogger(r.Context()).Warn("shield: basic auth rejected", "user", u)
				w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`", charset="UTF-8"`)
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(kit.WithUser(r.Context(), u)))
		})
	}
}

// HashPassword returns a bcrypt hash suitable for server.auth.password_hash.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
