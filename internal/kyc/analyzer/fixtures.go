package analyzer

import (
	"sync"
	"time"

	"kycflow/internal/kyc/models"
)

// Fixtures is a catalog of canned analyses keyed by artifact reference. It
// lets demos and tests pin exact analyzer output for chosen references.
type Fixtures struct {
	mu         sync.RWMutex
	documents  map[string]models.DocumentAnalysis
	biometrics map[string]models.BiometricAnalysis
}

func NewFixtures() *Fixtures {
	return &Fixtures{
		documents:  make(map[string]models.DocumentAnalysis),
		biometrics: make(map[string]models.BiometricAnalysis),
	}
}

func (f *Fixtures) AddDocument(reference string, analysis models.DocumentAnalysis) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents[reference] = analysis
}

func (f *Fixtures) AddBiometric(reference string, analysis models.BiometricAnalysis) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.biometrics[reference] = analysis
}

func (f *Fixtures) document(reference string) (*models.DocumentAnalysis, bool) {
	if f == nil {
		return nil, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.documents[reference]
	if !ok {
		return nil, false
	}
	return cloneDocument(&a), true
}

func (f *Fixtures) biometric(reference string) (*models.BiometricAnalysis, bool) {
	if f == nil {
		return nil, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.biometrics[reference]
	if !ok {
		return nil, false
	}
	return cloneBiometric(&a), true
}

func cloneDocument(a *models.DocumentAnalysis) *models.DocumentAnalysis {
	c := *a
	if a.Fields.IssueDate != nil {
		t := *a.Fields.IssueDate
		c.Fields.IssueDate = &t
	}
	if a.Fields.ExpiryDate != nil {
		t := *a.Fields.ExpiryDate
		c.Fields.ExpiryDate = &t
	}
	c.Errors = append([]string(nil), a.Errors...)
	c.Warnings = append([]string(nil), a.Warnings...)
	return &c
}

func cloneBiometric(a *models.BiometricAnalysis) *models.BiometricAnalysis {
	c := *a
	if a.FaceMatchScore != nil {
		s := *a.FaceMatchScore
		c.FaceMatchScore = &s
	}
	c.Errors = append([]string(nil), a.Errors...)
	c.Warnings = append([]string(nil), a.Warnings...)
	return &c
}

// Demo references understood by DemoFixtures.
const (
	DemoDocumentTampered      = "demo://document/tampered"
	DemoDocumentExpired       = "demo://document/expired"
	DemoDocumentLowConfidence = "demo://document/low-confidence"
	DemoDocumentUnusable      = "demo://document/unusable"
	DemoSelfieNoLiveness      = "demo://selfie/no-liveness"
	DemoSelfieSpoof           = "demo://selfie/print-attack"
	DemoSelfieLowQuality      = "demo://selfie/low-quality"
)

// DemoFixtures returns a catalog covering each rejection path so a demo
// environment can exercise them without a real provider.
func DemoFixtures() *Fixtures {
	f := NewFixtures()
	good := models.QualityScores{Blur: 0.92, Glare: 0.95, Darkness: 0.9, Completeness: 1}
	issued := time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC)
	expired := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)

	f.AddDocument(DemoDocumentTampered, models.DocumentAnalysis{
		Confidence: 0.99,
		Quality:    good,
		Fraud:      models.FraudIndicators{Tampering: true},
		Warnings:   []string{"font inconsistency near document number"},
	})
	f.AddDocument(DemoDocumentExpired, models.DocumentAnalysis{
		Confidence: 0.93,
		Quality:    good,
		Fields: models.ExtractedFields{
			DocumentNumber: "X0000001",
			IssueDate:      &issued,
			ExpiryDate:     &expired,
		},
	})
	f.AddDocument(DemoDocumentLowConfidence, models.DocumentAnalysis{
		Confidence: 0.75,
		Quality:    models.QualityScores{Blur: 0.7, Glare: 0.8, Darkness: 0.85, Completeness: 0.9},
		Warnings:   []string{"text partially legible"},
	})
	f.AddDocument(DemoDocumentUnusable, models.DocumentAnalysis{
		Confidence: 0.4,
		Quality:    models.QualityScores{Blur: 0.2, Glare: 0.5, Darkness: 0.6, Completeness: 0.5},
		Errors:     []string{"document edges not detected"},
	})
	f.AddBiometric(DemoSelfieNoLiveness, models.BiometricAnalysis{
		Confidence:    0.9,
		LivenessCheck: false,
		LivenessScore: 0.3,
		QualityScore:  0.85,
	})
	f.AddBiometric(DemoSelfieSpoof, models.BiometricAnalysis{
		Confidence:    0.95,
		LivenessCheck: true,
		LivenessScore: 0.9,
		QualityScore:  0.9,
		Spoof:         models.SpoofIndicators{PrintAttack: true},
	})
	f.AddBiometric(DemoSelfieLowQuality, models.BiometricAnalysis{
		Confidence:    0.85,
		LivenessCheck: true,
		LivenessScore: 0.88,
		QualityScore:  0.6,
		Warnings:      []string{"face partially occluded"},
	})
	return f
}
