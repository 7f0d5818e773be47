package web

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS returns middleware that lets the browser client call the API from
// the given origins. An empty list allows any origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Correlation-ID"},
		MaxAge:         600,
	})
	return c.Handler
}
