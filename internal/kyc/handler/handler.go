package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kycflow/internal/kyc/models"
	"kycflow/internal/kyc/service"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/httputil"
	"kycflow/pkg/platform/middleware/auth"
	"kycflow/pkg/requestcontext"
)

// Service is the session manager surface exposed over HTTP.
type Service interface {
	CreateSession(ctx context.Context, userID id.UserID, reset bool) (*models.Session, error)
	GetSession(ctx context.Context, userID id.UserID) (*models.Session, error)
	GetProgress(ctx context.Context, userID id.UserID) (int, error)
	IsKYCApproved(ctx context.Context, userID id.UserID) (bool, error)
	SubmitPersonalInfo(ctx context.Context, userID id.UserID, info models.PersonalInfo) (*models.Session, error)
	SubmitDocument(ctx context.Context, userID id.UserID, documentID, reference string) (*models.Session, error)
	RetryDocument(ctx context.Context, userID id.UserID, documentID string) (*models.Session, error)
	SubmitBiometric(ctx context.Context, userID id.UserID, reference string) (*models.Session, error)
	RetryBiometric(ctx context.Context, userID id.UserID) (*models.Session, error)
	Finalize(ctx context.Context, userID id.UserID) (*models.Session, error)
	AutoApprove(ctx context.Context, userID id.UserID, role string) (*models.Session, error)
	DemoApprovalEnabled() bool
}

// Handler wires KYC endpoints to the session manager.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the KYC endpoints. The demo approval route exists only
// when the manager allows demo approval.
func (h *Handler) Register(r chi.Router) {
	r.Route("/kyc", func(r chi.Router) {
		r.Post("/session", h.HandleCreateSession)
		r.Get("/session", h.HandleGetSession)
		r.Get("/progress", h.HandleGetProgress)
		r.Get("/status", h.HandleGetStatus)
		r.Put("/personal-info", h.HandleSubmitPersonalInfo)
		r.Post("/documents/{documentId}", h.HandleSubmitDocument)
		r.Post("/documents/{documentId}/retry", h.HandleRetryDocument)
		r.Post("/biometric", h.HandleSubmitBiometric)
		r.Post("/biometric/retry", h.HandleRetryBiometric)
		r.Post("/finalize", h.HandleFinalize)
		if h.service.DemoApprovalEnabled() {
			r.With(auth.RequireRole(h.logger, service.RoleDemo, service.RoleAdmin)).
				Post("/demo/approve", h.HandleDemoApprove)
		}
	})
}

// requireUser extracts the authenticated user or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	userID := requestcontext.UserID(r.Context())
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return userID, false
	}
	return userID, true
}

// HandleCreateSession handles POST /kyc/session.
func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CreateSessionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	session, err := h.service.CreateSession(ctx, userID, req.Reset)
	if err != nil {
		h.fail(ctx, w, "create session failed", userID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromSession(session))
}

// HandleGetSession handles GET /kyc/session.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	session, err := h.service.GetSession(r.Context(), userID)
	if err != nil {
		h.fail(r.Context(), w, "get session failed", userID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSession(session))
}

// HandleGetProgress handles GET /kyc/progress.
func (h *Handler) HandleGetProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	progress, err := h.service.GetProgress(r.Context(), userID)
	if err != nil {
		h.fail(r.Context(), w, "get progress failed", userID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ProgressResponse{Progress: progress})
}

// HandleGetStatus handles GET /kyc/status for feature gating.
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	approved, err := h.service.IsKYCApproved(r.Context(), userID)
	if err != nil {
		h.fail(r.Context(), w, "get status failed", userID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{Approved: approved})
}

// HandleSubmitPersonalInfo handles PUT /kyc/personal-info.
func (h *Handler) HandleSubmitPersonalInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[PersonalInfoRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	session, err := h.service.SubmitPersonalInfo(ctx, userID, req.PersonalInfo)
	if err != nil {
		h.fail(ctx, w, "submit personal info failed", userID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSession(session))
}

// HandleSubmitDocument handles POST /kyc/documents/{documentId}.
func (h *Handler) HandleSubmitDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ArtifactRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	documentID := chi.URLParam(r, "documentId")
	session, err := h.service.SubmitDocument(ctx, userID, documentID, req.ImageReference)
	if err != nil {
		h.fail(ctx, w, "submit document failed", userID, err, "document_id", documentID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSession(session))
}

// HandleRetryDocument handles POST /kyc/documents/{documentId}/retry.
func (h *Handler) HandleRetryDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	documentID := chi.URLParam(r, "documentId")
	session, err := h.service.RetryDocument(r.Context(), userID, documentID)
	if err != nil {
		h.fail(r.Context(), w, "retry document failed", userID, err, "document_id", documentID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSession(session))
}

// HandleSubmitBiometric handles POST /kyc/biometric.
func (h *Handler) HandleSubmitBiometric(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ArtifactRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	session, err := h.service.SubmitBiometric(ctx, userID, req.ImageReference)
	if err != nil {
		h.fail(ctx, w, "submit biometric failed", userID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSession(session))
}

// HandleRetryBiometric handles POST /kyc/biometric/retry.
func (h *Handler) HandleRetryBiometric(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	session, err := h.service.RetryBiometric(r.Context(), userID)
	if err != nil {
		h.fail(r.Context(), w, "retry biometric failed", userID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSession(session))
}

// HandleFinalize handles POST /kyc/finalize.
func (h *Handler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	session, err := h.service.Finalize(r.Context(), userID)
	if err != nil {
		h.fail(r.Context(), w, "finalize failed", userID, err)
		return
	}
	h.logger.InfoContext(r.Context(), "kyc session finalized",
		"request_id", requestcontext.RequestID(r.Context()),
		"user_id", userID,
		"status", session.Status,
		"risk_level", session.RiskLevel,
	)
	httputil.WriteJSON(w, http.StatusOK, FromSession(session))
}

// HandleDemoApprove handles POST /kyc/demo/approve. Admins may approve
// another user by id; everyone else approves themselves.
func (h *Handler) HandleDemoApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	callerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[DemoApproveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	role := requestcontext.Role(ctx)
	target := callerID
	if !req.userID.IsNil() && req.userID != callerID {
		if role != service.RoleAdmin {
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "only admins may approve other users"))
			return
		}
		target = req.userID
	}

	session, err := h.service.AutoApprove(ctx, target, role)
	if err != nil {
		h.fail(ctx, w, "demo approval failed", target, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSession(session))
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, userID id.UserID, err error, attrs ...any) {
	args := append([]any{
		"request_id", requestcontext.RequestID(ctx),
		"user_id", userID,
		"error", err,
	}, attrs...)
	if dErrors.HasCode(err, dErrors.CodeInternal) {
		h.logger.ErrorContext(ctx, msg, args...)
	} else {
		h.logger.WarnContext(ctx, msg, args...)
	}
	httputil.WriteError(w, err)
}
