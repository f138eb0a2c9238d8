// Package policy holds the thresholds and document requirements that turn
// analyzer numbers into verification outcomes.
package policy

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"kycflow/internal/kyc/models"
)

// Policy is immutable after load and shared by all sessions.
type Policy struct {
	Documents []models.DocumentRequirement `yaml:"documents"`

	// PointsPerStep is credited for each completed step. The score is always
	// recomputed from the completed set and clamped to [0,100].
	PointsPerStep int `yaml:"points_per_step"`

	// VerifiedThreshold is the confidence an artifact must exceed.
	VerifiedThreshold float64 `yaml:"verified_threshold"`
	// UsableThreshold separates an unusable capture from a low-confidence one.
	UsableThreshold float64 `yaml:"usable_threshold"`
	// QualityFloor is the biometric quality a capture must exceed.
	QualityFloor float64 `yaml:"quality_floor"`
	// FaceMatchThreshold applies only when a face match score is present.
	FaceMatchThreshold float64 `yaml:"face_match_threshold"`

	CompletedScore     int `yaml:"completed_score"`
	ReviewScore        int `yaml:"review_score"`
	ReviewMissingSteps int `yaml:"review_missing_steps"`

	MinimumAge  int           `yaml:"minimum_age"`
	MaxAttempts int           `yaml:"max_attempts"`
	SessionTTL  time.Duration `yaml:"session_ttl"`

	DocumentTimeout  time.Duration `yaml:"document_timeout"`
	BiometricTimeout time.Duration `yaml:"biometric_timeout"`
}

// Default returns the production defaults.
func Default() Policy {
	return Policy{
		Documents: []models.DocumentRequirement{
			{ID: "government_id", Type: models.DocumentNationalID, Required: true},
			{ID: "proof_of_address", Type: models.DocumentProofOfAddress, Required: true},
		},
		PointsPerStep:      25,
		VerifiedThreshold:  0.8,
		UsableThreshold:    0.7,
		QualityFloor:       0.75,
		FaceMatchThreshold: 0.8,
		CompletedScore:     80,
		ReviewScore:        60,
		ReviewMissingSteps: 1,
		MinimumAge:         18,
		MaxAttempts:        3,
		SessionTTL:         30 * 24 * time.Hour,
		DocumentTimeout:    30 * time.Second,
		BiometricTimeout:   45 * time.Second,
	}
}

// LoadFile overlays a YAML file on the defaults. Keys absent from the file
// keep their default values; unknown keys are rejected.
func LoadFile(path string) (Policy, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Policy{}, fmt.Errorf("decode policy file %s: %w", path, err)
	}
	return p, p.Validate()
}

// Validate checks internal consistency.
func (p Policy) Validate() error {
	seen := map[string]bool{}
	required := 0
	for _, d := range p.Documents {
		if d.ID == "" {
			return fmt.Errorf("policy: document requirement without id")
		}
		if seen[d.ID] {
			return fmt.Errorf("policy: duplicate document id %q", d.ID)
		}
		seen[d.ID] = true
		if !d.Type.IsValid() {
			return fmt.Errorf("policy: document %q has unknown type %q", d.ID, d.Type)
		}
		if d.Required {
			required++
		}
	}
	if required == 0 {
		return fmt.Errorf("policy: at least one required document is needed")
	}
	for name, v := range map[string]float64{
		"verified_threshold":   p.VerifiedThreshold,
		"usable_threshold":     p.UsableThreshold,
		"quality_floor":        p.QualityFloor,
		"face_match_threshold": p.FaceMatchThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("policy: %s must be within [0,1], got %v", name, v)
		}
	}
	if p.UsableThreshold > p.VerifiedThreshold {
		return fmt.Errorf("policy: usable_threshold must not exceed verified_threshold")
	}
	if p.PointsPerStep <= 0 {
		return fmt.Errorf("policy: points_per_step must be positive")
	}
	if p.ReviewScore > p.CompletedScore {
		return fmt.Errorf("policy: review_score must not exceed completed_score")
	}
	if p.MaxAttempts < 1 || p.MinimumAge < 0 || p.ReviewMissingSteps < 0 {
		return fmt.Errorf("policy: max_attempts, minimum_age and review_missing_steps must be non-negative (max_attempts >= 1)")
	}
	if p.DocumentTimeout <= 0 || p.BiometricTimeout <= 0 {
		return fmt.Errorf("policy: analyzer timeouts must be positive")
	}
	return nil
}

// RequiredStepCount is the size of the required step set for a session
// created under this policy.
func (p Policy) RequiredStepCount() int {
	n := 2
	for _, d := range p.Documents {
		if d.Required {
			n++
		}
	}
	return n
}
