package models

import (
	"time"
)

// DocumentType is the kind of identity evidence a slot accepts.
type DocumentType string

const (
	DocumentPassport       DocumentType = "passport"
	DocumentDriverLicense  DocumentType = "driver_license"
	DocumentNationalID     DocumentType = "national_id"
	DocumentProofOfAddress DocumentType = "proof_of_address"
)

// IsValid reports whether t is a known document type.
func (t DocumentType) IsValid() bool {
	switch t {
	case DocumentPassport, DocumentDriverLicense, DocumentNationalID, DocumentProofOfAddress:
		return true
	}
	return false
}

// RecordStatus is shared by document and biometric records.
type RecordStatus string

const (
	RecordPending    RecordStatus = "pending"
	RecordUploaded   RecordStatus = "uploaded"
	RecordProcessing RecordStatus = "processing"
	RecordVerified   RecordStatus = "verified"
	RecordRejected   RecordStatus = "rejected"
)

// DocumentRequirement declares one document slot of a new session.
type DocumentRequirement struct {
	ID       string       `json:"id" yaml:"id"`
	Type     DocumentType `json:"type" yaml:"type"`
	Required bool         `json:"required" yaml:"required"`
}

// DocumentRecord tracks one document slot through capture and analysis.
type DocumentRecord struct {
	ID              string            `json:"id"`
	DocumentType    DocumentType      `json:"document_type"`
	Required        bool              `json:"required"`
	Status          RecordStatus      `json:"status"`
	SourceReference string            `json:"source_reference,omitempty"`
	Analysis        *DocumentAnalysis `json:"analysis,omitempty"`
	Check           CheckState        `json:"check"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// CheckState is the bookkeeping common to every analyzed artifact.
type CheckState struct {
	Attempts int `json:"attempts"`
	// InFlightID is set while an analyzer call is outstanding and cleared
	// when its result is applied. Results carrying a different ID are stale.
	InFlightID    string     `json:"in_flight_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	CaptureDevice string     `json:"capture_device,omitempty"`
}

// ExtractedFields are the values read off a document.
type ExtractedFields struct {
	DocumentNumber string     `json:"document_number,omitempty"`
	FullName       string     `json:"full_name,omitempty"`
	DateOfBirth    string     `json:"date_of_birth,omitempty"`
	Nationality    string     `json:"nationality,omitempty"`
	Address        string     `json:"address,omitempty"`
	IssueDate      *time.Time `json:"issue_date,omitempty"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
}

// QualityScores are image-quality sub-scores in [0,1], higher is better.
type QualityScores struct {
	Blur         float64 `json:"blur"`
	Glare        float64 `json:"glare"`
	Darkness     float64 `json:"darkness"`
	Completeness float64 `json:"completeness"`
}

// FraudIndicators are raised by the analyzer when a document looks forged.
type FraudIndicators struct {
	Tampering         bool `json:"tampering"`
	PhotoSubstitution bool `json:"photo_substitution"`
	ScreenRecapture   bool `json:"screen_recapture"`
}

// Any reports whether any indicator is raised.
func (f FraudIndicators) Any() bool {
	return f.Tampering || f.PhotoSubstitution || f.ScreenRecapture
}

// DocumentAnalysis is the analyzer's output for one document image. It
// carries numbers and indicators only; pass/fail is decided by policy.
type DocumentAnalysis struct {
	Confidence float64         `json:"confidence"`
	Fields     ExtractedFields `json:"fields"`
	Quality    QualityScores   `json:"quality"`
	Fraud      FraudIndicators `json:"fraud"`
	Errors     []string        `json:"errors,omitempty"`
	Warnings   []string        `json:"warnings,omitempty"`
}

// IsExpired reports whether the document carries an expiry date that is not
// after now.
func (a *DocumentAnalysis) IsExpired(now time.Time) bool {
	if a == nil || a.Fields.ExpiryDate == nil {
		return false
	}
	return !a.Fields.ExpiryDate.After(now)
}
