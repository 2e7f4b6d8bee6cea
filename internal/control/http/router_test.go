// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/stretchr/testify/require"

	"github.com/retrovue/playoutd/internal/bus"
	"github.com/retrovue/playoutd/internal/control"
)

var (
	openapiOnce sync.Once
	openapiDoc  *openapi3.T
	openapiErr  error
)

// loadOpenAPIDoc validates the embedded control-surface description
// against itself exactly once per test binary, grounded on the teacher's
// contract test pattern of loading and Validate()-ing the document before
// using it to check requests/responses.
func loadOpenAPIDoc(t *testing.T) *openapi3.T {
	t.Helper()
	openapiOnce.Do(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData(openAPIDoc)
		if err != nil {
			openapiErr = err
			return
		}
		if err := doc.Validate(context.Background()); err != nil {
			openapiErr = err
			return
		}
		openapiDoc = doc
	})
	require.NoError(t, openapiErr, "embedded openapi.yaml must be valid")
	return openapiDoc
}

// validateAgainstContract checks req/rr against the embedded OpenAPI
// description's matching route, failing the test if the handler's wire
// shape has drifted from the document (spec.md §6 control surface).
func validateAgainstContract(t *testing.T, doc *openapi3.T, req *http.Request, rr *httptest.ResponseRecorder) {
	t.Helper()
	router, err := legacy.NewRouter(doc)
	require.NoError(t, err)

	route, pathParams, err := router.FindRoute(req)
	require.NoError(t, err, "no openapi route for %s %s", req.Method, req.URL.Path)

	// req's body was already consumed by the handler; validate against a
	// fresh copy obtained from GetBody rather than the drained original.
	validationReq := req
	if req.GetBody != nil {
		rc, err := req.GetBody()
		require.NoError(t, err)
		clone := req.Clone(req.Context())
		clone.Body = rc
		validationReq = clone
	}

	reqInput := &openapi3filter.RequestValidationInput{Request: validationReq, PathParams: pathParams, Route: route}
	require.NoError(t, openapi3filter.ValidateRequest(context.Background(), reqInput))

	respInput := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: reqInput,
		Status:                 rr.Code,
		Header:                 rr.Header(),
		Body:                   nopCloser{bytes.NewReader(rr.Body.Bytes())},
	}
	require.NoError(t, openapi3filter.ValidateResponse(context.Background(), respInput))
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

func newTestRouter() (http.Handler, *control.Service) {
	svc := control.NewService(bus.NewMemoryBus())
	r := NewRouter(svc, RateLimitConfig{RequestLimit: 5, WindowSize: time.Minute}, RateLimitConfig{RequestLimit: 5, WindowSize: time.Minute})
	return r, svc
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestStartChannelMatchesOpenAPIContract(t *testing.T) {
	doc := loadOpenAPIDoc(t)
	h, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/channels/ch1/start", bytes.NewBufferString(`{"plan_handle":"p1"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	validateAgainstContract(t, doc, req, rr)
}

func TestStartChannelDuplicateReturns409MatchingContract(t *testing.T) {
	doc := loadOpenAPIDoc(t)
	h, _ := newTestRouter()

	doJSON(t, h, http.MethodPost, "/channels/ch1/start", map[string]string{})

	req := httptest.NewRequest(http.MethodPost, "/channels/ch1/start", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusConflict, rr.Code)
	validateAgainstContract(t, doc, req, rr)
}

func TestGetVersionMatchesOpenAPIContract(t *testing.T) {
	doc := loadOpenAPIDoc(t)
	h, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	validateAgainstContract(t, doc, req, rr)
}

func TestFeedBlockPlanRateLimited(t *testing.T) {
	h, _ := newTestRouter()
	doJSON(t, h, http.MethodPost, "/channels/ch1/start", map[string]string{})
	doJSON(t, h, http.MethodPost, "/channels/ch1/stream/attach", map[string]any{"transport": "uds", "endpoint": "/tmp/ch1.sock"})
	doJSON(t, h, http.MethodPost, "/channels/ch1/blockplan/start", map[string]any{
		"block_a": map[string]any{"block_id": "a", "start_utc_ms": 0, "end_utc_ms": 1000},
		"block_b": map[string]any{"block_id": "b", "start_utc_ms": 1000, "end_utc_ms": 2000},
	})

	feedBody := map[string]any{"block": map[string]any{"block_id": "c", "start_utc_ms": 2000, "end_utc_ms": 3000}}
	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		last = doJSON(t, h, http.MethodPost, "/channels/ch1/blockplan/feed", feedBody)
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code, "6th feed within the window must be rate-limited")
	require.NotEmpty(t, last.Header().Get("Retry-After"))
}

func TestStartBlockPlanSessionMatchesOpenAPIContractOnNotContiguous(t *testing.T) {
	doc := loadOpenAPIDoc(t)
	h, _ := newTestRouter()
	doJSON(t, h, http.MethodPost, "/channels/ch1/start", map[string]string{})
	doJSON(t, h, http.MethodPost, "/channels/ch1/stream/attach", map[string]any{"transport": "uds", "endpoint": "/tmp/ch1.sock"})

	body := map[string]any{
		"block_a": map[string]any{"block_id": "a", "start_utc_ms": 0, "end_utc_ms": 1000},
		"block_b": map[string]any{"block_id": "b", "start_utc_ms": 1500, "end_utc_ms": 2500},
	}
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, "/channels/ch1/blockplan/start", &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	validateAgainstContract(t, doc, req, rr)
}
