package provider

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"kycflow/internal/kyc/analyzer"
	id "kycflow/pkg/domain"
)

// LocalAdapter runs analyzers in process. It never expresses a verdict of
// its own, so results always go through local policy.
type LocalAdapter struct {
	documents  analyzer.DocumentAnalyzer
	biometrics analyzer.BiometricAnalyzer
}

func NewLocal(documents analyzer.DocumentAnalyzer, biometrics analyzer.BiometricAnalyzer) *LocalAdapter {
	return &LocalAdapter{documents: documents, biometrics: biometrics}
}

const localID = "local"

func (a *LocalAdapter) ID() string { return localID }

func (a *LocalAdapter) OpenSession(_ context.Context, _ id.UserID) (string, error) {
	return "local-" + uuid.NewString(), nil
}

func (a *LocalAdapter) AnalyzeDocument(ctx context.Context, req DocumentRequest) (*DocumentResult, error) {
	analysis, err := a.documents.AnalyzeDocument(ctx, req.Reference, req.DocumentType)
	if err != nil {
		return nil, classifyLocal(err)
	}
	return &DocumentResult{CheckID: uuid.NewString(), Analysis: analysis}, nil
}

func (a *LocalAdapter) AnalyzeBiometric(ctx context.Context, req BiometricRequest) (*BiometricResult, error) {
	analysis, err := a.biometrics.AnalyzeBiometric(ctx, req.Reference, req.ReferencePhoto)
	if err != nil {
		return nil, classifyLocal(err)
	}
	return &BiometricResult{CheckID: uuid.NewString(), Analysis: analysis}, nil
}

func (a *LocalAdapter) CloseSession(context.Context, string) error { return nil }

func (a *LocalAdapter) Health(context.Context) error { return nil }

func classifyLocal(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(ErrorTimeout, localID, "analysis timed out", err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, analyzer.ErrEmptyReference), errors.Is(err, analyzer.ErrUnreadableArtifact):
		return NewError(ErrorBadData, localID, "artifact rejected by analyzer", err)
	default:
		return NewError(ErrorInternal, localID, "analyzer failed", err)
	}
}
