package models

// Compliance flags recorded on a session. They inform reviewers and never
// gate the state machine on their own.
const (
	FlagNameMismatch      = "name mismatch"
	FlagDocumentExpired   = "document expired"
	FlagLowConfidence     = "low confidence"
	FlagUnusableCapture   = "unusable capture"
	FlagTampering         = "document tampering detected"
	FlagPhotoSubstitution = "photo substitution detected"
	FlagScreenRecapture   = "screen recapture detected"
	FlagLivenessFailed    = "liveness check failed"
	FlagLowQuality        = "low image quality"
	FlagPrintAttack       = "print attack detected"
	FlagReplayAttack      = "replay attack detected"
	FlagMaskAttack        = "mask attack detected"
	FlagFaceMismatch      = "face mismatch"
	FlagUnderage          = "underage"
	FlagDocumentTimeout   = "document analysis timed out"
	FlagBiometricTimeout  = "biometric analysis timed out"
	FlagAttemptsExhausted = "analysis attempts exhausted"
	FlagProviderRejected  = "rejected by verification provider"
	FlagAnalysisMissing   = "analysis missing"
	FlagManualReview      = "manual review required"
	FlagAutoApproved      = "approved without verification"
)

// InvalidFieldFlag names a personal-info field that failed validation.
func InvalidFieldFlag(field string) string {
	return "invalid personal info: " + field
}
