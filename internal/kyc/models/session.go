package models

import (
	"slices"
	"time"

	id "kycflow/pkg/domain"
)

// SessionStatus is the lifecycle position of a verification session.
type SessionStatus string

const (
	SessionCreated    SessionStatus = "created"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionExpired    SessionStatus = "expired"
)

// RiskLevel is the coarse trust tier derived at finalization.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Session is the root aggregate: one per user, mutated only by the session
// manager. OverallScore is derived from CompletedSteps on every mutation
// and never adjusted incrementally.
type Session struct {
	ID                id.SessionID      `json:"session_id"`
	UserID            id.UserID         `json:"user_id"`
	Status            SessionStatus     `json:"status"`
	RiskLevel         RiskLevel         `json:"risk_level"`
	OverallScore      int               `json:"overall_score"`
	ReviewRequired    bool              `json:"review_required"`
	PersonalInfo      *PersonalInfo     `json:"personal_info,omitempty"`
	Documents         []*DocumentRecord `json:"documents"`
	Biometric         *BiometricRecord  `json:"biometric,omitempty"`
	ComplianceFlags   []string          `json:"compliance_flags"`
	CompletedSteps    []StepID          `json:"completed_steps"`
	FailedSteps       []StepID          `json:"failed_steps"`
	ProviderSessionID string            `json:"provider_session_id,omitempty"`
	// ApprovedBy names the role that forced approval through the demo path.
	ApprovedBy  string     `json:"approved_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty"`
}

// NewSession builds a fresh session with one pending record per document
// requirement.
func NewSession(userID id.UserID, docs []DocumentRequirement, now time.Time) *Session {
	s := &Session{
		ID:              id.NewSessionID(),
		UserID:          userID,
		Status:          SessionCreated,
		RiskLevel:       RiskHigh,
		Documents:       make([]*DocumentRecord, 0, len(docs)),
		ComplianceFlags: []string{},
		CompletedSteps:  []StepID{},
		FailedSteps:     []StepID{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, d := range docs {
		s.Documents = append(s.Documents, &DocumentRecord{
			ID:           d.ID,
			DocumentType: d.Type,
			Required:     d.Required,
			Status:       RecordPending,
			UpdatedAt:    now,
		})
	}
	return s
}

// IsActive reports whether the session blocks creation of a new one.
func (s *Session) IsActive() bool {
	return s.Status != SessionFailed && s.Status != SessionExpired
}

// AcceptsSubmissions reports whether artifacts may still be submitted.
func (s *Session) AcceptsSubmissions() bool {
	return s.Status == SessionCreated || s.Status == SessionInProgress
}

// IsApproved reports whether the session grants access to gated features.
func (s *Session) IsApproved() bool {
	return s.Status == SessionCompleted
}

// Touch advances UpdatedAt, keeping it strictly increasing even when the
// caller's clock reads the same instant twice.
func (s *Session) Touch(now time.Time) {
	if !now.After(s.UpdatedAt) {
		now = s.UpdatedAt.Add(time.Microsecond)
	}
	s.UpdatedAt = now
}

// Start moves a freshly created session into progress on its first
// submission.
func (s *Session) Start() {
	if s.Status == SessionCreated {
		s.Status = SessionInProgress
	}
}

// Document returns the record for documentID.
func (s *Session) Document(documentID string) (*DocumentRecord, bool) {
	for _, d := range s.Documents {
		if d.ID == documentID {
			return d, true
		}
	}
	return nil, false
}

// RequiredSteps lists every step that must complete for approval.
func (s *Session) RequiredSteps() []StepID {
	steps := []StepID{StepPersonalInfo}
	for _, d := range s.Documents {
		if d.Required {
			steps = append(steps, DocumentStep(d.ID))
		}
	}
	return append(steps, StepBiometric)
}

// MarkStepCompleted moves step into the completed set.
func (s *Session) MarkStepCompleted(step StepID) {
	s.FailedSteps = removeStep(s.FailedSteps, step)
	if !containsStep(s.CompletedSteps, step) {
		s.CompletedSteps = append(s.CompletedSteps, step)
	}
}

// MarkStepFailed moves step into the failed set.
func (s *Session) MarkStepFailed(step StepID) {
	s.CompletedSteps = removeStep(s.CompletedSteps, step)
	if !containsStep(s.FailedSteps, step) {
		s.FailedSteps = append(s.FailedSteps, step)
	}
}

// IsStepCompleted reports whether step is in the completed set.
func (s *Session) IsStepCompleted(step StepID) bool {
	return containsStep(s.CompletedSteps, step)
}

// AddFlags appends flags that are not already present. Flags are never
// removed.
func (s *Session) AddFlags(flags ...string) {
	for _, f := range flags {
		if f != "" && !slices.Contains(s.ComplianceFlags, f) {
			s.ComplianceFlags = append(s.ComplianceFlags, f)
		}
	}
}

// HasFlag reports whether flag has been recorded.
func (s *Session) HasFlag(flag string) bool {
	return slices.Contains(s.ComplianceFlags, flag)
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.PersonalInfo != nil {
		pi := *s.PersonalInfo
		if s.PersonalInfo.AnnualIncome != nil {
			income := *s.PersonalInfo.AnnualIncome
			pi.AnnualIncome = &income
		}
		c.PersonalInfo = &pi
	}
	c.Documents = make([]*DocumentRecord, len(s.Documents))
	for i, d := range s.Documents {
		c.Documents[i] = d.clone()
	}
	if s.Biometric != nil {
		c.Biometric = s.Biometric.clone()
	}
	c.ComplianceFlags = slices.Clone(s.ComplianceFlags)
	c.CompletedSteps = slices.Clone(s.CompletedSteps)
	c.FailedSteps = slices.Clone(s.FailedSteps)
	c.FinalizedAt = cloneTime(s.FinalizedAt)
	c.ExpiredAt = cloneTime(s.ExpiredAt)
	if c.ComplianceFlags == nil {
		c.ComplianceFlags = []string{}
	}
	if c.CompletedSteps == nil {
		c.CompletedSteps = []StepID{}
	}
	if c.FailedSteps == nil {
		c.FailedSteps = []StepID{}
	}
	return &c
}

func (d *DocumentRecord) clone() *DocumentRecord {
	c := *d
	c.Check = d.Check.clone()
	if d.Analysis != nil {
		a := *d.Analysis
		a.Fields.IssueDate = cloneTime(d.Analysis.Fields.IssueDate)
		a.Fields.ExpiryDate = cloneTime(d.Analysis.Fields.ExpiryDate)
		a.Errors = slices.Clone(d.Analysis.Errors)
		a.Warnings = slices.Clone(d.Analysis.Warnings)
		c.Analysis = &a
	}
	return &c
}

func (b *BiometricRecord) clone() *BiometricRecord {
	c := *b
	c.Check = b.Check.clone()
	if b.Analysis != nil {
		a := *b.Analysis
		if b.Analysis.FaceMatchScore != nil {
			score := *b.Analysis.FaceMatchScore
			a.FaceMatchScore = &score
		}
		a.Errors = slices.Clone(b.Analysis.Errors)
		a.Warnings = slices.Clone(b.Analysis.Warnings)
		c.Analysis = &a
	}
	return &c
}

func (c CheckState) clone() CheckState {
	c.StartedAt = cloneTime(c.StartedAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
