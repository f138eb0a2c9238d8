// Package provider hides whether artifacts are analysed locally or by a
// remote verification service. The session manager only sees Provider.
package provider

import (
	"context"
	"strings"

	"kycflow/internal/kyc/models"
	id "kycflow/pkg/domain"
)

// Provider is implemented by every verification backend.
type Provider interface {
	ID() string
	// OpenSession allocates the backend's correlation id for a user.
	OpenSession(ctx context.Context, userID id.UserID) (string, error)
	AnalyzeDocument(ctx context.Context, req DocumentRequest) (*DocumentResult, error)
	AnalyzeBiometric(ctx context.Context, req BiometricRequest) (*BiometricResult, error)
	CloseSession(ctx context.Context, providerSessionID string) error
	Health(ctx context.Context) error
}

type DocumentRequest struct {
	ProviderSessionID string
	DocumentID        string
	DocumentType      models.DocumentType
	Reference         string
}

type BiometricRequest struct {
	ProviderSessionID string
	Reference         string
	// ReferencePhoto is the source reference of a verified identity
	// document, empty when none exists.
	ReferencePhoto string
}

// DocumentResult carries the analysis plus the backend's own verdict.
// Status is empty when the backend only reports numbers.
type DocumentResult struct {
	CheckID  string
	Status   models.RecordStatus
	Reason   string
	Analysis *models.DocumentAnalysis
}

type BiometricResult struct {
	CheckID  string
	Status   models.RecordStatus
	Reason   string
	Analysis *models.BiometricAnalysis
}

var statusTable = map[string]models.RecordStatus{
	"pending":    models.RecordPending,
	"processing": models.RecordProcessing,
	"approved":   models.RecordVerified,
	"rejected":   models.RecordRejected,
	"expired":    models.RecordRejected,
}

// MapStatus translates a remote status. Unknown values map to Processing so
// new provider statuses keep the check open instead of failing it.
func MapStatus(remote string) models.RecordStatus {
	if s, ok := statusTable[strings.ToLower(strings.TrimSpace(remote))]; ok {
		return s
	}
	return models.RecordProcessing
}

// IsTerminal reports whether a mapped status ends polling.
func IsTerminal(s models.RecordStatus) bool {
	return s == models.RecordVerified || s == models.RecordRejected
}
