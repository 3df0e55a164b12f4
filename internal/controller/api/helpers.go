package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
)

// listOptionsQuery mirrors repositories.ListOptions; kept distinct so the
// HTTP layer's query-parsing concerns don't leak a dependency direction
// into the repository package.
type listOptionsQuery struct {
	Limit  int
	Offset int
}

func (q listOptionsQuery) toRepo() repositories.ListOptions {
	return repositories.ListOptions{Limit: q.Limit, Offset: q.Offset}
}

func parseNonNegativeInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}

// parseID extracts and parses a numeric id path parameter by name. Writes
// a 400 and returns false if the parameter is missing or malformed.
func parseID(w http.ResponseWriter, r *http.Request, param string) (uint64, bool) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		ErrBadRequest(w, "invalid "+param+": must be a non-negative integer")
		return 0, false
	}
	return id, true
}
