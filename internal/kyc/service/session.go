package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"kycflow/internal/kyc/models"
	"kycflow/internal/kyc/scoring"
	"kycflow/internal/kyc/store"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/audit"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/requestcontext"
)

// Roles allowed to force approval through the demo path.
const (
	RoleDemo  = "demo"
	RoleAdmin = "admin"
)

var errNotStale = errors.New("session no longer stale")

// CreateSession starts a new verification session for userID. An active
// session blocks creation unless reset is set.
func (s *Service) CreateSession(ctx context.Context, userID id.UserID, reset bool) (_ *models.Session, err error) {
	ctx, span := s.startSpan(ctx, "kyc.CreateSession", userID, attribute.Bool("kyc.reset", reset))
	defer func() { endSpan(span, err) }()

	canReplace := replaceCheck(reset)
	var previousProviderSession string
	existing, err := s.sessions.Get(ctx, userID)
	switch {
	case err == nil:
		if err := canReplace(existing); err != nil {
			return nil, err
		}
		previousProviderSession = existing.ProviderSessionID
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, translateStoreError(err, "load session")
	}

	providerSessionID, err := s.provider.OpenSession(ctx, userID)
	if err != nil {
		return nil, providerError(err, "open provider session")
	}

	now := requestcontext.Now(ctx)
	session := models.NewSession(userID, s.policy.Documents, now)
	session.ProviderSessionID = providerSessionID
	if err := s.sessions.Create(ctx, session, canReplace); err != nil {
		s.closeProviderSession(ctx, providerSessionID)
		err = translateStoreError(err, "create session")
		s.logFailure(ctx, "create session failed", userID, err)
		return nil, err
	}
	if previousProviderSession != "" {
		s.closeProviderSession(ctx, previousProviderSession)
	}

	s.metrics.IncSessionsCreated()
	s.emit(ctx, audit.EventSessionCreated, session, func(e *audit.Event) {
		if reset && existing != nil {
			e.Reason = "reset"
		}
	})
	return session, nil
}

func replaceCheck(reset bool) store.ReplaceFunc {
	return func(existing *models.Session) error {
		if existing.IsActive() && !reset {
			return dErrors.New(dErrors.CodeConflict, "an active verification session already exists")
		}
		return nil
	}
}

// GetSession returns the user's session.
func (s *Service) GetSession(ctx context.Context, userID id.UserID) (*models.Session, error) {
	session, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return nil, translateStoreError(err, "load session")
	}
	return session, nil
}

// GetProgress returns the percentage of required steps completed.
func (s *Service) GetProgress(ctx context.Context, userID id.UserID) (int, error) {
	session, err := s.GetSession(ctx, userID)
	if err != nil {
		return 0, err
	}
	return scoring.Progress(session), nil
}

// IsKYCApproved reports whether the user's session is Completed. A user
// without a session is not approved.
func (s *Service) IsKYCApproved(ctx context.Context, userID id.UserID) (bool, error) {
	session, err := s.sessions.Get(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, translateStoreError(err, "load session")
	}
	return session.IsApproved(), nil
}

// Finalize recomputes status and risk from the current step sets. Calling it
// again without intervening submissions yields the same outcome.
func (s *Service) Finalize(ctx context.Context, userID id.UserID) (_ *models.Session, err error) {
	ctx, span := s.startSpan(ctx, "kyc.Finalize", userID)
	defer func() { endSpan(span, err) }()

	now := requestcontext.Now(ctx)
	p := s.policy
	session, err := s.sessions.Execute(ctx, userID,
		func(current *models.Session) error {
			if current.Status == models.SessionExpired {
				return dErrors.New(dErrors.CodeConflict, "verification session has expired")
			}
			if anyInFlight(current, now, p.DocumentTimeout, p.BiometricTimeout) {
				return dErrors.New(dErrors.CodeBusy, "an analysis is still in progress")
			}
			return nil
		},
		func(current *models.Session) {
			current.OverallScore = scoring.Score(current, p)
			outcome := scoring.ComputeOutcome(current, p)
			current.Status = outcome.Status
			current.RiskLevel = outcome.RiskLevel
			current.ReviewRequired = outcome.ReviewRequired
			if outcome.ReviewRequired {
				current.AddFlags(models.FlagManualReview)
			}
			finalizedAt := now
			current.FinalizedAt = &finalizedAt
			current.Touch(now)
		})
	if err != nil {
		err = translateStoreError(err, "finalize session")
		s.logFailure(ctx, "finalize failed", userID, err)
		return nil, err
	}

	if session.Status != models.SessionInProgress && session.ProviderSessionID != "" {
		s.closeProviderSession(ctx, session.ProviderSessionID)
	}
	span.SetAttributes(
		attribute.String("kyc.status", string(session.Status)),
		attribute.String("kyc.risk_level", string(session.RiskLevel)),
		attribute.Int("kyc.score", session.OverallScore),
	)
	s.metrics.IncFinalizeOutcome(string(session.Status), string(session.RiskLevel))
	s.emit(ctx, audit.EventSessionFinalized, session, func(e *audit.Event) {
		e.Decision = string(session.Status)
		e.Reason = "risk_" + string(session.RiskLevel)
	})
	return session, nil
}

// AutoApprove writes a fully verified session without invoking any
// analyzer. It is refused unless demo approval is enabled outside
// production and role is demo or admin.
func (s *Service) AutoApprove(ctx context.Context, userID id.UserID, role string) (_ *models.Session, err error) {
	ctx, span := s.startSpan(ctx, "kyc.AutoApprove", userID, attribute.String("kyc.role", role))
	defer func() { endSpan(span, err) }()

	switch {
	case s.production:
		return nil, dErrors.WithReason(dErrors.CodeForbidden, "production", "demo approval is not available in production")
	case !s.demoEnabled:
		return nil, dErrors.WithReason(dErrors.CodeForbidden, "demo_disabled", "demo approval is disabled")
	case role != RoleDemo && role != RoleAdmin:
		return nil, dErrors.WithReason(dErrors.CodeForbidden, "role", "demo approval requires the demo or admin role")
	}

	now := requestcontext.Now(ctx)
	session := models.NewSession(userID, s.policy.Documents, now)
	session.MarkStepCompleted(models.StepPersonalInfo)
	for _, d := range session.Documents {
		d.Status = models.RecordVerified
		session.MarkStepCompleted(models.DocumentStep(d.ID))
	}
	session.Biometric = &models.BiometricRecord{Status: models.RecordVerified, UpdatedAt: now}
	session.MarkStepCompleted(models.StepBiometric)
	session.OverallScore = scoring.Score(session, s.policy)
	session.Status = models.SessionCompleted
	session.RiskLevel = models.RiskLow
	session.ApprovedBy = role
	session.FinalizedAt = &now
	session.AddFlags(models.FlagAutoApproved)

	if err := s.sessions.Create(ctx, session, nil); err != nil {
		return nil, translateStoreError(err, "store approved session")
	}

	s.emit(ctx, audit.EventAutoApproved, session, func(e *audit.Event) {
		e.Decision = string(models.SessionCompleted)
		e.Reason = "demo approval by role " + role
		if actor := requestcontext.UserID(ctx); !actor.IsNil() {
			e.ActorID = actor.String()
		} else {
			e.ActorID = role
		}
	})
	return session, nil
}

// ExpireSession moves the user's session to Expired. Expired sessions are
// retained for audit.
func (s *Service) ExpireSession(ctx context.Context, userID id.UserID) (_ *models.Session, err error) {
	ctx, span := s.startSpan(ctx, "kyc.ExpireSession", userID)
	defer func() { endSpan(span, err) }()

	now := requestcontext.Now(ctx)
	session, err := s.sessions.Execute(ctx, userID,
		func(current *models.Session) error {
			if current.Status == models.SessionExpired {
				return dErrors.New(dErrors.CodeConflict, "verification session already expired")
			}
			return nil
		},
		func(current *models.Session) { expire(current, now) })
	if err != nil {
		return nil, translateStoreError(err, "expire session")
	}
	s.metrics.AddSessionsExpired(1)
	s.emit(ctx, audit.EventSessionExpired, session, func(e *audit.Event) { e.Reason = "manual" })
	return session, nil
}

// ExpireStale expires every open session not updated within olderThan,
// defaulting to the policy TTL. It returns the number of sessions expired.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = s.policy.SessionTTL
	}
	now := requestcontext.Now(ctx)
	cutoff := now.Add(-olderThan)

	userIDs, err := s.sessions.ListStale(ctx, cutoff, 0)
	if err != nil {
		return 0, translateStoreError(err, "list stale sessions")
	}

	var errs []error
	expired := 0
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		session, err := s.sessions.Execute(ctx, userID,
			func(current *models.Session) error {
				if !current.AcceptsSubmissions() || !current.UpdatedAt.Before(cutoff) {
					return errNotStale
				}
				return nil
			},
			func(current *models.Session) { expire(current, now) })
		if errors.Is(err, errNotStale) || errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.WarnContext(ctx, "expire stale session failed", "user_id", userID.String(), "error", err)
			errs = append(errs, err)
			continue
		}
		expired++
		s.emit(ctx, audit.EventSessionExpired, session, func(e *audit.Event) { e.Reason = "ttl" })
	}

	s.metrics.AddSessionsExpired(expired)
	if expired > 0 {
		s.logger.InfoContext(ctx, "expired stale sessions", "count", expired, "cutoff", cutoff)
	}
	return expired, errors.Join(errs...)
}

// expire marks the session Expired and detaches outstanding analyzer calls
// so their results are discarded.
func expire(session *models.Session, now time.Time) {
	session.Status = models.SessionExpired
	expiredAt := now
	session.ExpiredAt = &expiredAt
	for _, d := range session.Documents {
		d.Check.InFlightID = ""
	}
	if session.Biometric != nil {
		session.Biometric.Check.InFlightID = ""
	}
	session.Touch(now)
}

func (s *Service) closeProviderSession(ctx context.Context, providerSessionID string) {
	if err := s.provider.CloseSession(context.WithoutCancel(ctx), providerSessionID); err != nil {
		s.logger.WarnContext(ctx, "close provider session failed",
			"provider", s.provider.ID(),
			"provider_session_id", providerSessionID,
			"error", err,
		)
	}
}
