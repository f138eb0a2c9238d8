// Package testutil provides request builders and response assertions for
// handler tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "kycflow/pkg/domain-errors"
)

// ErrorBody mirrors the error envelope written by httputil.WriteError.
type ErrorBody struct {
	Error       string               `json:"error"`
	Description string               `json:"error_description"`
	Reason      string               `json:"reason"`
	Fields      []dErrors.FieldError `json:"fields"`
}

// FieldNames lists the failing fields in response order.
func (b ErrorBody) FieldNames() []string {
	names := make([]string, len(b.Fields))
	for i, f := range b.Fields {
		names[i] = f.Field
	}
	return names
}

// JSONRequest builds a request whose body is body marshaled to JSON. A nil
// body sends no payload.
func JSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err, "marshal request body")
		payload = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// Serve runs req through h and returns the recorded response.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// Decode unmarshals the response body into T. The body is not consumed, so
// a response can be decoded more than once.
func Decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "decode response: %s", rr.Body.String())
	return out
}

// AssertStatus fails with the response body when the status differs.
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	assert.Equal(t, want, rr.Code, "unexpected status, body: %s", rr.Body.String())
}

// AssertError checks the status and the error code of an error response and
// returns the decoded envelope for further checks.
func AssertError(t *testing.T, rr *httptest.ResponseRecorder, status int, code dErrors.Code) ErrorBody {
	t.Helper()
	AssertStatus(t, rr, status)
	body := Decode[ErrorBody](t, rr)
	assert.Equal(t, string(code), body.Error, "unexpected error code")
	return body
}

// AssertField checks a top-level JSON field of the response.
func AssertField(t *testing.T, rr *httptest.ResponseRecorder, key string, want any) {
	t.Helper()
	body := Decode[map[string]any](t, rr)
	assert.Equal(t, want, body[key], "unexpected value for %q", key)
}
