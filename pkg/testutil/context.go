package testutil

import (
	"net/http"

	id "kycflow/pkg/domain"
	"kycflow/pkg/requestcontext"
)

// WithUserID adds a user ID to the request context, simulating the auth
// middleware. Invalid IDs are silently ignored.
func WithUserID(req *http.Request, userID string) *http.Request {
	if parsed, err := id.ParseUserID(userID); err == nil {
		return req.WithContext(requestcontext.WithUserID(req.Context(), parsed))
	}
	return req
}

// WithRole adds a role claim to the request context.
func WithRole(req *http.Request, role string) *http.Request {
	return req.WithContext(requestcontext.WithRole(req.Context(), role))
}

// WithAuth adds both a user ID and role, the usual authenticated state.
func WithAuth(req *http.Request, userID, role string) *http.Request {
	return WithRole(WithUserID(req, userID), role)
}
