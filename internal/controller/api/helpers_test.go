package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestPaginationOpts_Defaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/services", nil)
	opts := paginationOpts(r)
	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
}

func TestPaginationOpts_CapsLimit(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/services?limit=10000&offset=5", nil)
	opts := paginationOpts(r)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 5, opts.Offset)
}

func TestParseID_Valid(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/services/42", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "42")
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

	w := httptest.NewRecorder()
	id, ok := parseID(w, r, "id")
	assert.True(t, ok)
	assert.Equal(t, uint64(42), id)
}

func TestParseID_Invalid(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/services/abc", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "abc")
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

	w := httptest.NewRecorder()
	_, ok := parseID(w, r, "id")
	assert.False(t, ok)
	assert.Equal(t, 400, w.Code)
}
