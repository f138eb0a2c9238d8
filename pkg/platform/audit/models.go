package audit

import (
	"context"
	"time"

	id "kycflow/pkg/domain"
)

// EventCategory classifies audit events for retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance, such as
	// verification outcomes and manual overrides.
	CategoryCompliance EventCategory = "compliance"
	// CategorySecurity covers events worth alerting on (fraud, spoofing).
	CategorySecurity EventCategory = "security"
	// CategoryOperations covers routine progress events.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. It stays
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	UserID    id.UserID     `json:"user_id"`
	SessionID string        `json:"session_id,omitempty"`
	Action    string        `json:"action"`
	Subject   string        `json:"subject,omitempty"`
	Decision  string        `json:"decision,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
	// ActorID is set when someone other than the subject performed the
	// action, for example an operator forcing approval.
	ActorID string `json:"actor_id,omitempty"`
	// SubjectIDHash is a keyed hash of an identity document number. Raw
	// document numbers never leave the session record.
	SubjectIDHash string `json:"subject_id_hash,omitempty"`
}

type AuditEvent string

const (
	EventSessionCreated        AuditEvent = "kyc_session_created"
	EventPersonalInfoSubmitted AuditEvent = "kyc_personal_info_submitted"
	EventPersonalInfoRejected  AuditEvent = "kyc_personal_info_rejected"
	EventDocumentVerified      AuditEvent = "kyc_document_verified"
	EventDocumentRejected      AuditEvent = "kyc_document_rejected"
	EventBiometricVerified     AuditEvent = "kyc_biometric_verified"
	EventBiometricRejected     AuditEvent = "kyc_biometric_rejected"
	EventAnalyzerFailed        AuditEvent = "kyc_analyzer_failed"
	EventSessionFinalized      AuditEvent = "kyc_session_finalized"
	EventSessionExpired        AuditEvent = "kyc_session_expired"
	EventAutoApproved          AuditEvent = "kyc_auto_approved"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventSessionFinalized: CategoryCompliance,
	EventAutoApproved:     CategoryCompliance,
	EventSessionExpired:   CategoryCompliance,

	EventDocumentRejected:     CategorySecurity,
	EventBiometricRejected:    CategorySecurity,
	EventPersonalInfoRejected: CategorySecurity,

	EventSessionCreated:        CategoryOperations,
	EventPersonalInfoSubmitted: CategoryOperations,
	EventDocumentVerified:      CategoryOperations,
	EventBiometricVerified:     CategoryOperations,
	EventAnalyzerFailed:        CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
