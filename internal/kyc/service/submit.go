package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kycflow/internal/kyc/models"
	"kycflow/internal/kyc/provider"
	"kycflow/internal/kyc/scoring"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/audit"
	"kycflow/pkg/platform/middleware/device"
	"kycflow/pkg/requestcontext"
)

// errStaleResult marks an analyzer result whose check was superseded,
// expired or reset while the call was outstanding.
var errStaleResult = errors.New("stale analysis result")

// SubmitDocument analyses reference for documentID and records the verdict.
// Rejections are returned as a successful session carrying flags; errors are
// reserved for caller misuse and analyzer failures.
func (s *Service) SubmitDocument(ctx context.Context, userID id.UserID, documentID, reference string) (*models.Session, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, dErrors.Validation("image reference is required",
			dErrors.FieldError{Field: "image_reference", Message: "is required"})
	}
	return s.submitDocument(ctx, userID, documentID, strings.TrimSpace(reference), false)
}

// RetryDocument re-analyses the last submitted reference for documentID.
func (s *Service) RetryDocument(ctx context.Context, userID id.UserID, documentID string) (*models.Session, error) {
	return s.submitDocument(ctx, userID, documentID, "", true)
}

// SubmitBiometric analyses a selfie capture, overwriting the previous
// biometric record. Only the attempt count carries over.
func (s *Service) SubmitBiometric(ctx context.Context, userID id.UserID, reference string) (*models.Session, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, dErrors.Validation("image reference is required",
			dErrors.FieldError{Field: "image_reference", Message: "is required"})
	}
	return s.submitBiometric(ctx, userID, strings.TrimSpace(reference), false)
}

// RetryBiometric re-analyses the last submitted selfie reference.
func (s *Service) RetryBiometric(ctx context.Context, userID id.UserID) (*models.Session, error) {
	return s.submitBiometric(ctx, userID, "", true)
}

func (s *Service) submitDocument(ctx context.Context, userID id.UserID, documentID, reference string, retry bool) (_ *models.Session, err error) {
	ctx, span := s.startSpan(ctx, "kyc.SubmitDocument", userID,
		attribute.String("kyc.document_id", documentID),
		attribute.Bool("kyc.retry", retry),
	)
	defer func() { endSpan(span, err) }()

	now := requestcontext.Now(ctx)
	checkID := uuid.NewString()
	captureDevice := device.FromContext(ctx)
	p := s.policy

	session, err := s.sessions.Execute(ctx, userID,
		func(current *models.Session) error {
			if err := requireOpen(current); err != nil {
				return err
			}
			doc, ok := current.Document(documentID)
			if !ok {
				return dErrors.WithReason(dErrors.CodeNotFound, "unknown_document",
					"document "+documentID+" is not part of this session")
			}
			return admit(doc.Check, retry, doc.SourceReference != "", now, p.DocumentTimeout, p.MaxAttempts)
		},
		func(current *models.Session) {
			doc, _ := current.Document(documentID)
			current.Start()
			if !retry {
				doc.SourceReference = reference
			}
			doc.Status = models.RecordProcessing
			doc.Analysis = nil
			begin(&doc.Check, checkID, now, captureDevice)
			doc.UpdatedAt = now
			current.Touch(now)
		})
	if err != nil {
		return nil, translateStoreError(err, "start document analysis")
	}

	doc, _ := session.Document(documentID)
	req := provider.DocumentRequest{
		ProviderSessionID: session.ProviderSessionID,
		DocumentID:        documentID,
		DocumentType:      doc.DocumentType,
		Reference:         doc.SourceReference,
	}
	ref := checkRef{userID: userID, sessionID: session.ID, checkID: checkID, documentID: documentID}
	return runCheck(ctx, s, artifactDocument, p.DocumentTimeout,
		func(cctx context.Context) (*provider.DocumentResult, error) {
			return s.provider.AnalyzeDocument(cctx, req)
		},
		func(actx context.Context, res *provider.DocumentResult, callErr error, deadline bool) (*models.Session, error) {
			return s.applyDocument(actx, ref, res, callErr, deadline)
		})
}

func (s *Service) submitBiometric(ctx context.Context, userID id.UserID, reference string, retry bool) (_ *models.Session, err error) {
	ctx, span := s.startSpan(ctx, "kyc.SubmitBiometric", userID, attribute.Bool("kyc.retry", retry))
	defer func() { endSpan(span, err) }()

	now := requestcontext.Now(ctx)
	checkID := uuid.NewString()
	captureDevice := device.FromContext(ctx)
	p := s.policy

	session, err := s.sessions.Execute(ctx, userID,
		func(current *models.Session) error {
			if err := requireOpen(current); err != nil {
				return err
			}
			if current.Biometric == nil {
				return admit(models.CheckState{}, retry, false, now, p.BiometricTimeout, p.MaxAttempts)
			}
			b := current.Biometric
			return admit(b.Check, retry, b.SourceReference != "", now, p.BiometricTimeout, p.MaxAttempts)
		},
		func(current *models.Session) {
			var previous models.CheckState
			if current.Biometric != nil {
				previous = current.Biometric.Check
				if retry {
					reference = current.Biometric.SourceReference
				}
			}
			current.Start()
			record := &models.BiometricRecord{
				Status:          models.RecordProcessing,
				SourceReference: reference,
				Check:           models.CheckState{Attempts: previous.Attempts},
				UpdatedAt:       now,
			}
			begin(&record.Check, checkID, now, captureDevice)
			current.Biometric = record
			current.Touch(now)
		})
	if err != nil {
		return nil, translateStoreError(err, "start biometric analysis")
	}

	req := provider.BiometricRequest{
		ProviderSessionID: session.ProviderSessionID,
		Reference:         session.Biometric.SourceReference,
		ReferencePhoto:    referencePhoto(session),
	}
	ref := checkRef{userID: userID, sessionID: session.ID, checkID: checkID}
	return runCheck(ctx, s, artifactBiometric, p.BiometricTimeout,
		func(cctx context.Context) (*provider.BiometricResult, error) {
			return s.provider.AnalyzeBiometric(cctx, req)
		},
		func(actx context.Context, res *provider.BiometricResult, callErr error, deadline bool) (*models.Session, error) {
			return s.applyBiometric(actx, ref, res, callErr, deadline)
		})
}

// admit decides whether a new analysis may start for a record.
func admit(check models.CheckState, retry, hasReference bool, now time.Time, timeout time.Duration, maxAttempts int) error {
	if inFlight(check, now, timeout) {
		return dErrors.New(dErrors.CodeBusy, "an analysis for this artifact is already in progress")
	}
	if retry && !hasReference {
		return dErrors.WithReason(dErrors.CodeConflict, "nothing_to_retry", "no previous submission to retry")
	}
	if check.Attempts >= maxAttempts {
		return dErrors.WithReason(dErrors.CodeForbidden, "retry_limit", "maximum analysis attempts reached for this artifact")
	}
	return nil
}

func begin(check *models.CheckState, checkID string, now time.Time, captureDevice string) {
	startedAt := now
	check.Attempts++
	check.InFlightID = checkID
	check.StartedAt = &startedAt
	check.LastError = ""
	check.CaptureDevice = captureDevice
}

// inFlight reports whether check has an outstanding analyzer call. A call
// older than twice its timeout is presumed lost with its worker and no
// longer blocks new submissions.
func inFlight(check models.CheckState, now time.Time, timeout time.Duration) bool {
	if check.InFlightID == "" || check.StartedAt == nil {
		return false
	}
	return now.Sub(*check.StartedAt) < 2*timeout
}

func anyInFlight(session *models.Session, now time.Time, documentTimeout, biometricTimeout time.Duration) bool {
	for _, d := range session.Documents {
		if inFlight(d.Check, now, documentTimeout) {
			return true
		}
	}
	return session.Biometric != nil && inFlight(session.Biometric.Check, now, biometricTimeout)
}

// referencePhoto picks the source of a verified identity document to match
// the selfie against.
func referencePhoto(session *models.Session) string {
	for _, d := range session.Documents {
		if d.Status != models.RecordVerified || d.SourceReference == "" {
			continue
		}
		switch d.DocumentType {
		case models.DocumentPassport, models.DocumentNationalID, models.DocumentDriverLicense:
			return d.SourceReference
		}
	}
	return ""
}

type checkOutcome struct {
	session *models.Session
	err     error
}

// runCheck runs call on a context detached from the caller and bounded by
// timeout, then applies its result. deadline is set only when the local
// timeout fired; a provider reporting its own timeout is an ordinary
// failure. If the caller goes away first the call keeps running and its
// result is still applied.
func runCheck[R any](
	ctx context.Context,
	s *Service,
	artifact string,
	timeout time.Duration,
	call func(context.Context) (R, error),
	apply func(ctx context.Context, res R, err error, deadline bool) (*models.Session, error),
) (*models.Session, error) {
	detached := context.WithoutCancel(ctx)
	done := make(chan checkOutcome, 1)

	s.metrics.CheckStarted()
	s.inflight.Go(func() {
		defer s.metrics.CheckFinished()

		callCtx, cancel := context.WithTimeout(detached, timeout)
		callCtx, span := s.tracer.Start(callCtx, "kyc.provider.Analyze",
			trace.WithAttributes(attribute.String("kyc.artifact", artifact), attribute.String("kyc.provider", s.provider.ID())))
		started := time.Now()
		res, err := call(callCtx)
		deadline := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		if err == nil && deadline {
			err = callCtx.Err()
		}
		endSpan(span, err)
		cancel()
		s.metrics.ObserveAnalyzerLatency(artifact, time.Since(started))

		session, err := apply(detached, res, err, deadline)
		done <- checkOutcome{session: session, err: err}
	})

	select {
	case out := <-done:
		return out.session, out.err
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "caller abandoned analysis, continuing in background",
			"artifact", artifact,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "request abandoned; analysis continues in background")
	}
}

type checkRef struct {
	userID     id.UserID
	sessionID  id.SessionID
	checkID    string
	documentID string
}

func (r checkRef) owns(session *models.Session, check models.CheckState) bool {
	return session.ID == r.sessionID && check.InFlightID == r.checkID
}

// resolves reports whether a settled check may still change ref's record.
// The session must still be open.
func (r checkRef) resolves(session *models.Session, check models.CheckState) bool {
	return r.owns(session, check) && session.AcceptsSubmissions()
}

// failure classifies how a call that returned callErr settles its record.
type failure int

const (
	failureNone failure = iota
	failureRetryable
	failureTimeout
	failureExhausted
)

// settle decides how a finished call resolves its record. A failure on the
// last allowed attempt rejects the record.
func settle(callErr error, deadline bool, check models.CheckState, maxAttempts int) failure {
	switch {
	case callErr == nil:
		return failureNone
	case deadline:
		return failureTimeout
	case check.Attempts >= maxAttempts:
		return failureExhausted
	default:
		return failureRetryable
	}
}

func (s *Service) applyDocument(ctx context.Context, ref checkRef, res *provider.DocumentResult, callErr error, deadline bool) (*models.Session, error) {
	now := requestcontext.Now(ctx)
	p := s.policy
	step := models.DocumentStep(ref.documentID)

	var (
		v    verdict
		kind failure
	)
	session, err := s.sessions.Execute(ctx, ref.userID,
		func(current *models.Session) error {
			doc, ok := current.Document(ref.documentID)
			if !ok || !ref.resolves(current, doc.Check) {
				return errStaleResult
			}
			return nil
		},
		func(current *models.Session) {
			doc, _ := current.Document(ref.documentID)
			v = verdict{}
			kind = settle(callErr, deadline, doc.Check, p.MaxAttempts)
			switch kind {
			case failureNone:
				v = evaluateDocument(res, current.PersonalInfo, p, now)
				doc.Analysis = res.Analysis
				doc.Status = v.status()
			case failureTimeout:
				v = verdict{flags: []string{models.FlagDocumentTimeout}}
				doc.Status = models.RecordRejected
			case failureExhausted:
				v = verdict{flags: []string{models.FlagAttemptsExhausted}}
				doc.Status = models.RecordRejected
			}
			if callErr != nil {
				doc.Check.LastError = callErr.Error()
			}
			if kind != failureRetryable {
				if v.verified {
					current.MarkStepCompleted(step)
				} else {
					current.MarkStepFailed(step)
				}
				current.AddFlags(v.flags...)
			}
			doc.Check.InFlightID = ""
			doc.UpdatedAt = now
			current.OverallScore = scoring.Score(current, p)
			current.Touch(now)
		})
	if err != nil {
		return nil, s.storeApplyError(ctx, ref, artifactDocument, err)
	}

	doc, _ := session.Document(ref.documentID)
	if kind == failureRetryable {
		return nil, s.analyzerFailed(ctx, session, artifactDocument, ref.documentID, callErr)
	}
	s.recordSettled(artifactDocument, kind, callErr, v)

	event := audit.EventDocumentRejected
	if v.verified {
		event = audit.EventDocumentVerified
	}
	s.emit(ctx, event, session, func(e *audit.Event) {
		e.Subject = ref.documentID
		e.Decision = string(doc.Status)
		e.Reason = strings.Join(v.flags, "; ")
		e.SubjectIDHash = s.hashDocumentNumber(doc.Analysis)
	})
	return session, nil
}

func (s *Service) applyBiometric(ctx context.Context, ref checkRef, res *provider.BiometricResult, callErr error, deadline bool) (*models.Session, error) {
	now := requestcontext.Now(ctx)
	p := s.policy

	var (
		v    verdict
		kind failure
	)
	session, err := s.sessions.Execute(ctx, ref.userID,
		func(current *models.Session) error {
			if current.Biometric == nil || !ref.resolves(current, current.Biometric.Check) {
				return errStaleResult
			}
			return nil
		},
		func(current *models.Session) {
			b := current.Biometric
			v = verdict{}
			kind = settle(callErr, deadline, b.Check, p.MaxAttempts)
			switch kind {
			case failureNone:
				v = evaluateBiometric(res, p)
				b.Analysis = res.Analysis
				b.Status = v.status()
			case failureTimeout:
				v = verdict{flags: []string{models.FlagBiometricTimeout}}
				b.Status = models.RecordRejected
			case failureExhausted:
				v = verdict{flags: []string{models.FlagAttemptsExhausted}}
				b.Status = models.RecordRejected
			}
			if callErr != nil {
				b.Check.LastError = callErr.Error()
			}
			if kind != failureRetryable {
				if v.verified {
					current.MarkStepCompleted(models.StepBiometric)
				} else {
					current.MarkStepFailed(models.StepBiometric)
				}
				current.AddFlags(v.flags...)
			}
			b.Check.InFlightID = ""
			b.UpdatedAt = now
			current.OverallScore = scoring.Score(current, p)
			current.Touch(now)
		})
	if err != nil {
		return nil, s.storeApplyError(ctx, ref, artifactBiometric, err)
	}

	if kind == failureRetryable {
		return nil, s.analyzerFailed(ctx, session, artifactBiometric, artifactBiometric, callErr)
	}
	s.recordSettled(artifactBiometric, kind, callErr, v)

	event := audit.EventBiometricRejected
	if v.verified {
		event = audit.EventBiometricVerified
	}
	s.emit(ctx, event, session, func(e *audit.Event) {
		e.Subject = artifactBiometric
		e.Decision = string(session.Biometric.Status)
		e.Reason = strings.Join(v.flags, "; ")
	})
	return session, nil
}

func (s *Service) recordSettled(artifact string, kind failure, callErr error, v verdict) {
	switch kind {
	case failureTimeout:
		s.metrics.IncAnalyzerFailure(artifact, string(provider.ErrorTimeout))
		s.metrics.IncSubmission(artifact, outcomeTimeout)
	case failureExhausted:
		s.metrics.IncAnalyzerFailure(artifact, string(provider.CategoryOf(callErr)))
		s.metrics.IncSubmission(artifact, outcomeRejected)
	default:
		s.metrics.IncSubmission(artifact, v.outcome())
	}
}

func (s *Service) storeApplyError(ctx context.Context, ref checkRef, artifact string, err error) error {
	if errors.Is(err, errStaleResult) {
		s.logger.WarnContext(ctx, "discarding stale analysis result",
			"user_id", ref.userID.String(),
			"session_id", ref.sessionID.String(),
			"artifact", artifact,
			"check_id", ref.checkID,
		)
		return dErrors.New(dErrors.CodeConflict, "analysis result was superseded")
	}
	err = translateStoreError(err, "record analysis result")
	s.logFailure(ctx, "record analysis result failed", ref.userID, err)
	return err
}

// analyzerFailed reports a provider failure that left the record in
// Processing. The caller may retry.
func (s *Service) analyzerFailed(ctx context.Context, session *models.Session, artifact, subject string, callErr error) error {
	category := provider.CategoryOf(callErr)
	s.metrics.IncAnalyzerFailure(artifact, string(category))
	s.metrics.IncSubmission(artifact, outcomeUnavailable)
	s.logger.WarnContext(ctx, "analyzer call failed",
		"user_id", session.UserID.String(),
		"session_id", session.ID.String(),
		"artifact", artifact,
		"provider", s.provider.ID(),
		"category", string(category),
		"error", callErr,
	)
	s.emit(ctx, audit.EventAnalyzerFailed, session, func(e *audit.Event) {
		e.Subject = subject
		e.Reason = string(category)
	})
	return providerError(callErr, "analyze "+artifact)
}

// providerError maps adapter failures onto domain codes. Everything except
// unusable input is surfaced as retryable.
func providerError(err error, action string) error {
	if provider.CategoryOf(err) == provider.ErrorBadData {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, action+": artifact could not be read")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, action+": verification provider unavailable, retry later")
}
