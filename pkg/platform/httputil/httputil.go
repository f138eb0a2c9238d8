// Package httputil holds the JSON response and request-decoding helpers
// shared by every HTTP handler.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "kycflow/pkg/domain-errors"
)

const maxBodyBytes = 1 << 20

// Validatable is implemented by request DTOs that normalize and validate
// themselves after decoding.
type Validatable interface {
	Validate() error
}

type errorResponse struct {
	Error            string               `json:"error"`
	ErrorDescription string               `json:"error_description,omitempty"`
	Reason           string               `json:"reason,omitempty"`
	Fields           []dErrors.FieldError `json:"fields,omitempty"`
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a coded error onto a status and error body. Internal
// failures never leak their description.
func WriteError(w http.ResponseWriter, err error) {
	de, ok := dErrors.As(err)
	if !ok {
		de = &dErrors.Error{Code: dErrors.CodeInternal}
	}
	status := StatusFor(de.Code)
	body := errorResponse{Error: string(de.Code), Reason: de.Reason, Fields: de.Fields}
	if status != http.StatusInternalServerError {
		body.ErrorDescription = de.Message
	}
	WriteJSON(w, status, body)
}

// StatusFor maps an error code onto an HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeValidation:
		return http.StatusUnprocessableEntity
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeBusy:
		return http.StatusConflict
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// DecodeAndPrepare decodes the JSON body into T and runs its validation.
// On failure it writes the error response and returns ok=false. An empty
// body decodes to the zero value so optional-body endpoints work.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	req := new(T)
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil && !errors.Is(err, io.EOF) {
		if logger != nil {
			logger.WarnContext(ctx, "failed to decode request body",
				"request_id", requestID,
				"error", err,
			)
		}
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return nil, false
	}
	if err := PT(req).Validate(); err != nil {
		WriteError(w, err)
		return nil, false
	}
	return req, true
}
