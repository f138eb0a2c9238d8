package service

import (
	"context"
	"strings"

	"kycflow/internal/kyc/models"
	"kycflow/internal/kyc/scoring"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/audit"
	"kycflow/pkg/requestcontext"
)

const artifactPersonalInfo = "personal_info"

// SubmitPersonalInfo validates and records the subject's declared identity.
// A rejected submission flags every failing field, marks the step failed
// unless an earlier submission already completed it, and returns a
// validation error listing the fields.
func (s *Service) SubmitPersonalInfo(ctx context.Context, userID id.UserID, info models.PersonalInfo) (_ *models.Session, err error) {
	ctx, span := s.startSpan(ctx, "kyc.SubmitPersonalInfo", userID)
	defer func() { endSpan(span, err) }()

	now := requestcontext.Now(ctx)
	info.Normalize()
	fields := info.Validate(now, s.policy.MinimumAge)
	flags := personalInfoFlags(fields)
	p := s.policy

	session, err := s.sessions.Execute(ctx, userID, requireOpen, func(current *models.Session) {
		current.Start()
		if len(fields) > 0 {
			current.AddFlags(flags...)
			if !current.IsStepCompleted(models.StepPersonalInfo) {
				current.MarkStepFailed(models.StepPersonalInfo)
			}
		} else {
			accepted := info
			current.PersonalInfo = &accepted
			current.MarkStepCompleted(models.StepPersonalInfo)
		}
		current.OverallScore = scoring.Score(current, p)
		current.Touch(now)
	})
	if err != nil {
		err = translateStoreError(err, "record personal info")
		s.logFailure(ctx, "submit personal info failed", userID, err)
		return nil, err
	}

	if len(fields) > 0 {
		s.metrics.IncSubmission(artifactPersonalInfo, outcomeRejected)
		s.emit(ctx, audit.EventPersonalInfoRejected, session, func(e *audit.Event) {
			e.Subject = artifactPersonalInfo
			e.Decision = outcomeRejected
			e.Reason = strings.Join(flags, "; ")
		})
		return nil, dErrors.Validation("personal information is invalid", fields...)
	}

	s.metrics.IncSubmission(artifactPersonalInfo, outcomeVerified)
	s.emit(ctx, audit.EventPersonalInfoSubmitted, session, func(e *audit.Event) {
		e.Subject = artifactPersonalInfo
		e.Decision = outcomeVerified
	})
	return session, nil
}

func personalInfoFlags(fields []dErrors.FieldError) []string {
	flags := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Field == "date_of_birth" && strings.HasSuffix(f.Message, "years old") {
			flags = append(flags, models.FlagUnderage)
			continue
		}
		flags = append(flags, models.InvalidFieldFlag(f.Field))
	}
	return flags
}

// requireOpen rejects writes to sessions that no longer accept submissions.
func requireOpen(current *models.Session) error {
	if !current.AcceptsSubmissions() {
		return dErrors.New(dErrors.CodeConflict, "verification session is "+string(current.Status)+" and no longer accepts submissions")
	}
	return nil
}
