package api

import "net/http"

// Health handles GET /health — a liveness probe with no dependency checks.
func Health(w http.ResponseWriter, r *http.Request) {
	Ok(w, map[string]string{"status": "ok"})
}
