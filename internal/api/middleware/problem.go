package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// ProblemTypeBase prefixes the type URI of every problem response.
const ProblemTypeBase = "https://screenresults.dev/problems/"

var (
	publicMu        sync.RWMutex
	publicEndpoints = map[string]bool{} //nolint: gochecknoglobals
)

// RegisterPublicEndpoint exempts a path from rate limiting.
func RegisterPublicEndpoint(path string) {
	publicMu.Lock()
	defer publicMu.Unlock()

	publicEndpoints[path] = true
}

// IsPublicEndpoint reports whether path was registered as public.
func IsPublicEndpoint(path string) bool {
	publicMu.RLock()
	defer publicMu.RUnlock()

	return publicEndpoints[path]
}

// ProblemType returns the type URI for a status code.
func ProblemType(status int) string {
	return fmt.Sprintf("%s%d", ProblemTypeBase, status)
}

// writeProblem writes a minimal RFC 7807 response for failures raised inside middleware.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, detail string) error {
	problem := map[string]any{
		"type":          ProblemType(status),
		"title":         http.StatusText(status),
		"status":        status,
		"detail":        detail,
		"instance":      r.URL.Path,
		"correlationId": GetCorrelationID(r.Context()),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(problem)
}
