package service

import (
	"strings"
	"time"

	"kycflow/internal/kyc/models"
	"kycflow/internal/kyc/policy"
	"kycflow/internal/kyc/provider"
)

// verdict is the policy decision for one analysed artifact. An artifact is
// verified only when no flag was raised.
type verdict struct {
	verified bool
	flags    []string
}

func (v verdict) status() models.RecordStatus {
	if v.verified {
		return models.RecordVerified
	}
	return models.RecordRejected
}

func (v verdict) outcome() string {
	if v.verified {
		return outcomeVerified
	}
	return outcomeRejected
}

// evaluateDocument applies confidence, fraud, expiry and name cross-check
// rules to a document result. Analyzer errors and warnings become flags only
// when the document is rejected.
func evaluateDocument(res *provider.DocumentResult, info *models.PersonalInfo, p policy.Policy, now time.Time) verdict {
	flags := providerFlags(res.Status, res.Reason)
	a := res.Analysis
	if a == nil {
		return verdict{flags: append(flags, models.FlagAnalysisMissing)}
	}

	if a.Fraud.Tampering {
		flags = append(flags, models.FlagTampering)
	}
	if a.Fraud.PhotoSubstitution {
		flags = append(flags, models.FlagPhotoSubstitution)
	}
	if a.Fraud.ScreenRecapture {
		flags = append(flags, models.FlagScreenRecapture)
	}
	if a.IsExpired(now) {
		flags = append(flags, models.FlagDocumentExpired)
	}
	flags = append(flags, confidenceFlags(a.Confidence, p)...)
	if !nameMatches(info, a.Fields.FullName) {
		flags = append(flags, models.FlagNameMismatch)
	}

	if len(flags) == 0 {
		return verdict{verified: true}
	}
	flags = append(flags, a.Errors...)
	flags = append(flags, a.Warnings...)
	return verdict{flags: flags}
}

// evaluateBiometric requires confidence, liveness and quality above their
// thresholds, no spoof indicator and, when a face match was computed, a
// match at or above the face match threshold.
func evaluateBiometric(res *provider.BiometricResult, p policy.Policy) verdict {
	flags := providerFlags(res.Status, res.Reason)
	a := res.Analysis
	if a == nil {
		return verdict{flags: append(flags, models.FlagAnalysisMissing)}
	}

	if a.Spoof.PrintAttack {
		flags = append(flags, models.FlagPrintAttack)
	}
	if a.Spoof.ReplayAttack {
		flags = append(flags, models.FlagReplayAttack)
	}
	if a.Spoof.MaskAttack {
		flags = append(flags, models.FlagMaskAttack)
	}
	if !a.LivenessCheck {
		flags = append(flags, models.FlagLivenessFailed)
	}
	if a.QualityScore <= p.QualityFloor {
		flags = append(flags, models.FlagLowQuality)
	}
	flags = append(flags, confidenceFlags(a.Confidence, p)...)
	if a.FaceMatchScore != nil && *a.FaceMatchScore < p.FaceMatchThreshold {
		flags = append(flags, models.FlagFaceMismatch)
	}

	if len(flags) == 0 {
		return verdict{verified: true}
	}
	flags = append(flags, a.Errors...)
	flags = append(flags, a.Warnings...)
	return verdict{flags: flags}
}

func providerFlags(status models.RecordStatus, reason string) []string {
	if status != models.RecordRejected {
		return nil
	}
	if reason == "" {
		return []string{models.FlagProviderRejected}
	}
	return []string{models.FlagProviderRejected, reason}
}

func confidenceFlags(confidence float64, p policy.Policy) []string {
	switch {
	case confidence < p.UsableThreshold:
		return []string{models.FlagUnusableCapture}
	case confidence <= p.VerifiedThreshold:
		return []string{models.FlagLowConfidence}
	default:
		return nil
	}
}

// nameMatches requires the extracted name to contain both the declared
// first and last name, case-insensitively. It passes when either side has
// nothing to compare.
func nameMatches(info *models.PersonalInfo, extracted string) bool {
	if info == nil || info.FirstName == "" || info.LastName == "" || strings.TrimSpace(extracted) == "" {
		return true
	}
	full := strings.ToLower(extracted)
	return strings.Contains(full, strings.ToLower(info.FirstName)) &&
		strings.Contains(full, strings.ToLower(info.LastName))
}
