package httpserver

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS returns a middleware that allows cross-origin reads from the listed
// origins. "*" allows any origin. An empty list disables cross-origin
// access, so browsers on other origins cannot read the token.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
		AllowedHeaders: []string{"Authorization"},
		MaxAge:         600,
	})
	return c.Handler
}
