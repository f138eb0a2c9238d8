package models

import "time"

// SpoofIndicators are presentation-attack signals.
type SpoofIndicators struct {
	PrintAttack  bool `json:"print_attack"`
	ReplayAttack bool `json:"replay_attack"`
	MaskAttack   bool `json:"mask_attack"`
}

// Any reports whether any indicator is raised.
func (s SpoofIndicators) Any() bool {
	return s.PrintAttack || s.ReplayAttack || s.MaskAttack
}

// BiometricAnalysis is the analyzer's output for a selfie capture.
type BiometricAnalysis struct {
	Confidence    float64 `json:"confidence"`
	LivenessCheck bool    `json:"liveness_check"`
	LivenessScore float64 `json:"liveness_score"`
	// FaceMatchScore is nil when no reference document photo was available.
	FaceMatchScore *float64        `json:"face_match_score,omitempty"`
	QualityScore   float64         `json:"quality_score"`
	Spoof          SpoofIndicators `json:"spoof"`
	Errors         []string        `json:"errors,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
}

// BiometricRecord is the session's single biometric attempt. A new
// submission overwrites it; only the attempt count carries over.
type BiometricRecord struct {
	Status          RecordStatus       `json:"status"`
	SourceReference string             `json:"source_reference,omitempty"`
	Analysis        *BiometricAnalysis `json:"analysis,omitempty"`
	Check           CheckState         `json:"check"`
	UpdatedAt       time.Time          `json:"updated_at"`
}
