package handler

import (
	"time"

	"kycflow/internal/kyc/models"
	"kycflow/internal/kyc/scoring"
	"kycflow/pkg/platform/privacy"
)

// SessionResponse is returned by every session-mutating endpoint so clients
// can render status and flags without a second fetch.
type SessionResponse struct {
	SessionID       string               `json:"session_id"`
	Status          string               `json:"status"`
	RiskLevel       string               `json:"risk_level"`
	OverallScore    int                  `json:"overall_score"`
	Progress        int                  `json:"progress"`
	ReviewRequired  bool                 `json:"review_required"`
	PersonalInfo    *models.PersonalInfo `json:"personal_info,omitempty"`
	Documents       []DocumentResponse   `json:"documents"`
	Biometric       *BiometricResponse   `json:"biometric,omitempty"`
	ComplianceFlags []string             `json:"compliance_flags"`
	CompletedSteps  []string             `json:"completed_steps"`
	FailedSteps     []string             `json:"failed_steps"`
	ApprovedBy      string               `json:"approved_by,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	FinalizedAt     *time.Time           `json:"finalized_at,omitempty"`
	ExpiredAt       *time.Time           `json:"expired_at,omitempty"`
}

type DocumentResponse struct {
	ID           string                   `json:"id"`
	DocumentType string                   `json:"document_type"`
	Required     bool                     `json:"required"`
	Status       string                   `json:"status"`
	Attempts     int                      `json:"attempts"`
	LastError    string                   `json:"last_error,omitempty"`
	Analysis     *models.DocumentAnalysis `json:"analysis,omitempty"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

type BiometricResponse struct {
	Status    string                    `json:"status"`
	Attempts  int                       `json:"attempts"`
	LastError string                    `json:"last_error,omitempty"`
	Analysis  *models.BiometricAnalysis `json:"analysis,omitempty"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

type ProgressResponse struct {
	Progress int `json:"progress"`
}

type StatusResponse struct {
	Approved bool `json:"approved"`
}

// FromSession converts a session to its HTTP representation. Document
// numbers are masked.
func FromSession(s *models.Session) *SessionResponse {
	resp := &SessionResponse{
		SessionID:       s.ID.String(),
		Status:          string(s.Status),
		RiskLevel:       string(s.RiskLevel),
		OverallScore:    s.OverallScore,
		Progress:        scoring.Progress(s),
		ReviewRequired:  s.ReviewRequired,
		PersonalInfo:    s.PersonalInfo,
		Documents:       make([]DocumentResponse, 0, len(s.Documents)),
		ComplianceFlags: s.ComplianceFlags,
		CompletedSteps:  stepNames(s.CompletedSteps),
		FailedSteps:     stepNames(s.FailedSteps),
		ApprovedBy:      s.ApprovedBy,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
		FinalizedAt:     s.FinalizedAt,
		ExpiredAt:       s.ExpiredAt,
	}
	if resp.ComplianceFlags == nil {
		resp.ComplianceFlags = []string{}
	}
	for _, d := range s.Documents {
		resp.Documents = append(resp.Documents, DocumentResponse{
			ID:           d.ID,
			DocumentType: string(d.DocumentType),
			Required:     d.Required,
			Status:       string(d.Status),
			Attempts:     d.Check.Attempts,
			LastError:    d.Check.LastError,
			Analysis:     maskedAnalysis(d.Analysis),
			UpdatedAt:    d.UpdatedAt,
		})
	}
	if b := s.Biometric; b != nil {
		resp.Biometric = &BiometricResponse{
			Status:    string(b.Status),
			Attempts:  b.Check.Attempts,
			LastError: b.Check.LastError,
			Analysis:  b.Analysis,
			UpdatedAt: b.UpdatedAt,
		}
	}
	return resp
}

func maskedAnalysis(a *models.DocumentAnalysis) *models.DocumentAnalysis {
	if a == nil {
		return nil
	}
	masked := *a
	masked.Fields.DocumentNumber = privacy.Mask(a.Fields.DocumentNumber)
	return &masked
}

func stepNames(steps []models.StepID) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = string(s)
	}
	return out
}
