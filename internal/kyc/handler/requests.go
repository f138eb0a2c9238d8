package handler

import (
	"strings"

	"kycflow/internal/kyc/models"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

const maxReferenceLength = 2048

// CreateSessionRequest is the body for POST /kyc/session. The body is
// optional.
type CreateSessionRequest struct {
	Reset bool `json:"reset"`
}

func (r *CreateSessionRequest) Validate() error {
	return nil
}

// PersonalInfoRequest is the body for PUT /kyc/personal-info. Field rules
// are enforced by the session manager so failures are flagged on the
// session.
type PersonalInfoRequest struct {
	models.PersonalInfo
}

func (r *PersonalInfoRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return nil
}

// ArtifactRequest is the body for document and biometric submissions.
type ArtifactRequest struct {
	ImageReference string `json:"image_reference"`
}

func (r *ArtifactRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.ImageReference = strings.TrimSpace(r.ImageReference)
	if len(r.ImageReference) > maxReferenceLength {
		return dErrors.Validation("image_reference is too long",
			dErrors.FieldError{Field: "image_reference", Message: "must be at most 2048 characters"})
	}
	if r.ImageReference == "" {
		return dErrors.Validation("image_reference is required",
			dErrors.FieldError{Field: "image_reference", Message: "is required"})
	}
	return nil
}

// DemoApproveRequest is the optional body for POST /kyc/demo/approve.
type DemoApproveRequest struct {
	UserID string `json:"user_id,omitempty"`

	userID id.UserID
}

func (r *DemoApproveRequest) Validate() error {
	r.UserID = strings.TrimSpace(r.UserID)
	if r.UserID == "" {
		return nil
	}
	parsed, err := id.ParseUserID(r.UserID)
	if err != nil {
		return dErrors.Validation("user_id is invalid",
			dErrors.FieldError{Field: "user_id", Message: "must be a UUID"})
	}
	r.userID = parsed
	return nil
}
