// Package analyzer turns one captured artifact into numbers and indicators.
// Analyzers never decide pass or fail; the session manager applies policy.
package analyzer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"kycflow/internal/kyc/models"
)

// DocumentAnalyzer inspects an identity or address document.
type DocumentAnalyzer interface {
	AnalyzeDocument(ctx context.Context, reference string, docType models.DocumentType) (*models.DocumentAnalysis, error)
}

// BiometricAnalyzer inspects a selfie capture. referencePhoto is the source
// reference of a verified identity document, or empty when none exists.
type BiometricAnalyzer interface {
	AnalyzeBiometric(ctx context.Context, reference, referencePhoto string) (*models.BiometricAnalysis, error)
}

var (
	// ErrEmptyReference is returned for a blank artifact reference.
	ErrEmptyReference = errors.New("artifact reference is empty")
	// ErrUnreadableArtifact is returned when a file reference cannot be
	// opened or decoded as an image.
	ErrUnreadableArtifact = errors.New("artifact is unreadable")
)

const fileScheme = "file://"

// ResolvePath maps a "file://" reference onto a path under root. References
// cannot escape root. ok is false for other schemes or when root is unset.
func ResolvePath(root, reference string) (path string, ok bool) {
	if root == "" {
		return "", false
	}
	rel, found := strings.CutPrefix(reference, fileScheme)
	if !found || rel == "" {
		return "", false
	}
	clean := filepath.Clean("/" + filepath.FromSlash(rel))
	return filepath.Join(root, clean), true
}
