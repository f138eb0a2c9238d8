// Package scoring derives the session score, progress and final outcome
// from the completed step set. Every function is pure.
package scoring

import (
	"kycflow/internal/kyc/models"
	"kycflow/internal/kyc/policy"
)

// Score credits PointsPerStep for every completed step and clamps the
// result to [0,100].
func Score(s *models.Session, p policy.Policy) int {
	return clamp(len(s.CompletedSteps) * p.PointsPerStep)
}

// CompletedRequired counts required steps present in the completed set.
func CompletedRequired(s *models.Session) int {
	n := 0
	for _, step := range s.RequiredSteps() {
		if s.IsStepCompleted(step) {
			n++
		}
	}
	return n
}

// Progress is the percentage of required steps completed, clamped to
// [0,100].
func Progress(s *models.Session) int {
	required := s.RequiredSteps()
	if len(required) == 0 {
		return 0
	}
	return clamp(CompletedRequired(s) * 100 / len(required))
}

// Outcome is the result of ComputeOutcome.
type Outcome struct {
	Status         models.SessionStatus
	RiskLevel      models.RiskLevel
	ReviewRequired bool
}

// ComputeOutcome classifies a session:
//
//   - every required step completed, records verified and score >= CompletedScore: Completed, Low
//   - score >= ReviewScore and at most ReviewMissingSteps required steps missing: InProgress, Medium, review
//   - otherwise: Failed, High
func ComputeOutcome(s *models.Session, p policy.Policy) Outcome {
	required := len(s.RequiredSteps())
	completed := CompletedRequired(s)
	score := Score(s, p)

	if completed == required && recordsVerified(s) && score >= p.CompletedScore {
		return Outcome{Status: models.SessionCompleted, RiskLevel: models.RiskLow}
	}
	if score >= p.ReviewScore && completed >= required-p.ReviewMissingSteps {
		return Outcome{Status: models.SessionInProgress, RiskLevel: models.RiskMedium, ReviewRequired: true}
	}
	return Outcome{Status: models.SessionFailed, RiskLevel: models.RiskHigh}
}

// recordsVerified double-checks the per-record statuses behind the step
// set: completion requires every required document and the biometric to be
// Verified.
func recordsVerified(s *models.Session) bool {
	for _, d := range s.Documents {
		if d.Required && d.Status != models.RecordVerified {
			return false
		}
	}
	return s.Biometric != nil && s.Biometric.Status == models.RecordVerified
}

func clamp(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
