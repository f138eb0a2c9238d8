// Package service implements the verification session manager. It owns
// every state transition of a user's session; analyzers and the provider
// only produce numbers, and policy decides what they mean.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"kycflow/internal/kyc/metrics"
	"kycflow/internal/kyc/models"
	"kycflow/internal/kyc/policy"
	"kycflow/internal/kyc/provider"
	"kycflow/internal/kyc/store"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/audit"
	"kycflow/pkg/platform/privacy"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/requestcontext"
)

const tracerName = "kycflow/internal/kyc/service"

const (
	artifactDocument  = "document"
	artifactBiometric = "biometric"

	outcomeVerified    = "verified"
	outcomeRejected    = "rejected"
	outcomeTimeout     = "timeout"
	outcomeUnavailable = "unavailable"
)

// SessionStore persists one session per user with per-user serialised
// read-modify-write.
type SessionStore interface {
	Get(ctx context.Context, userID id.UserID) (*models.Session, error)
	Create(ctx context.Context, session *models.Session, canReplace store.ReplaceFunc) error
	Execute(ctx context.Context, userID id.UserID, validate store.ValidateFunc, mutate store.MutateFunc) (*models.Session, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]id.UserID, error)
	Health(ctx context.Context) error
}

// Provider analyses artifacts on behalf of the manager.
type Provider interface {
	ID() string
	OpenSession(ctx context.Context, userID id.UserID) (string, error)
	AnalyzeDocument(ctx context.Context, req provider.DocumentRequest) (*provider.DocumentResult, error)
	AnalyzeBiometric(ctx context.Context, req provider.BiometricRequest) (*provider.BiometricResult, error)
	CloseSession(ctx context.Context, providerSessionID string) error
	Health(ctx context.Context) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the verification session manager.
type Service struct {
	sessions       SessionStore
	provider       Provider
	policy         policy.Policy
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	hasher         *privacy.Hasher

	demoEnabled bool
	production  bool

	// inflight tracks analyzer calls that outlive their caller.
	inflight sync.WaitGroup
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithPolicy(p policy.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// WithHasher sets the keyed hasher used to pseudonymise document numbers in
// audit events.
func WithHasher(h *privacy.Hasher) Option {
	return func(s *Service) {
		s.hasher = h
	}
}

// WithDemoApproval enables AutoApprove. It stays disabled whenever
// production is true.
func WithDemoApproval(enabled, production bool) Option {
	return func(s *Service) {
		s.demoEnabled = enabled
		s.production = production
	}
}

// New constructs a Service with the default policy.
func New(sessions SessionStore, p Provider, opts ...Option) *Service {
	s := &Service{
		sessions: sessions,
		provider: p,
		policy:   policy.Default(),
		logger:   slog.New(slog.DiscardHandler),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the policy the manager applies.
func (s *Service) Policy() policy.Policy {
	return s.policy
}

// DemoApprovalEnabled reports whether AutoApprove can succeed at all.
func (s *Service) DemoApprovalEnabled() bool {
	return s.demoEnabled && !s.production
}

// Wait blocks until analyzer calls abandoned by their callers have been
// applied or timed out.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// Health checks the session store and the provider concurrently.
func (s *Service) Health(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.sessions.Health(gctx); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "session store unhealthy")
		}
		return nil
	})
	g.Go(func() error {
		if err := s.provider.Health(gctx); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "verification provider unhealthy")
		}
		return nil
	})
	return g.Wait()
}

// translateStoreError maps store sentinels to domain errors. Coded errors
// raised inside validate callbacks pass through unchanged.
func translateStoreError(err error, action string) error {
	if err == nil {
		return nil
	}
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "verification session not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeBusy, "session is being updated concurrently")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "session store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to "+action)
	}
}

// emit logs an audit line and forwards the event to the publisher. Publish
// failures are logged and never fail the operation.
func (s *Service) emit(ctx context.Context, event audit.AuditEvent, session *models.Session, fill func(*audit.Event)) {
	ev := audit.Event{
		Category:  event.Category(),
		Timestamp: requestcontext.Now(ctx),
		UserID:    session.UserID,
		SessionID: session.ID.String(),
		Action:    string(event),
		RequestID: requestcontext.RequestID(ctx),
	}
	if fill != nil {
		fill(&ev)
	}

	args := []any{
		"event", string(event),
		"log_type", "audit",
		"user_id", ev.UserID.String(),
		"session_id", ev.SessionID,
	}
	if ev.RequestID != "" {
		args = append(args, "request_id", ev.RequestID)
	}
	if ev.Subject != "" {
		args = append(args, "subject", ev.Subject)
	}
	if ev.Decision != "" {
		args = append(args, "decision", ev.Decision)
	}
	if ev.Reason != "" {
		args = append(args, "reason", ev.Reason)
	}
	s.logger.InfoContext(ctx, string(event), args...)

	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "audit publish failed",
			"event", string(event),
			"user_id", ev.UserID.String(),
			"error", err,
		)
	}
}

func (s *Service) hashDocumentNumber(a *models.DocumentAnalysis) string {
	if s.hasher == nil || a == nil || a.Fields.DocumentNumber == "" {
		return ""
	}
	return s.hasher.HashIdentifier(a.Fields.DocumentNumber)
}

func (s *Service) startSpan(ctx context.Context, name string, userID id.UserID, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("kyc.user_id", userID.String()))
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if de, ok := dErrors.As(err); ok {
			span.SetAttributes(attribute.String("kyc.error_code", string(de.Code)))
		}
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) logFailure(ctx context.Context, msg string, userID id.UserID, err error) {
	if dErrors.HasCode(err, dErrors.CodeInternal) {
		s.logger.ErrorContext(ctx, msg, "user_id", userID.String(), "request_id", requestcontext.RequestID(ctx), "error", err)
	}
}
