package handler

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/kyc/analyzer"
	"kycflow/internal/kyc/models"
	"kycflow/internal/kyc/provider"
	"kycflow/internal/kyc/service"
	"kycflow/internal/kyc/store"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/testutil"
)

type harness struct {
	router http.Handler
}

// newHarness serves the handler over a real manager backed by the in-memory
// store and the reference analyzer with demo fixtures.
func newHarness(t *testing.T, opts ...service.Option) *harness {
	t.Helper()
	ref := analyzer.NewReference(analyzer.WithFixtures(analyzer.DemoFixtures()))
	svc := service.New(store.NewInMemory(), provider.NewLocal(ref, ref), opts...)
	t.Cleanup(svc.Wait)

	r := chi.NewRouter()
	New(svc, slog.New(slog.DiscardHandler)).Register(r)
	return &harness{router: r}
}

func (h *harness) do(t *testing.T, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.JSONRequest(t, method, path, body)
	if userID != "" {
		req = testutil.WithAuth(req, userID, role)
	}
	return testutil.Serve(h.router, req)
}

func personalInfoBody(age int) map[string]any {
	return map[string]any{
		"first_name":    "Jane",
		"last_name":     "Doe",
		"date_of_birth": time.Now().AddDate(-age, 0, -1).Format("2006-01-02"),
		"nationality":   "us",
		"phone":         "+1 201-555-0123",
		"address":       map[string]any{"line1": "1 Main St", "country": "US"},
	}
}

func artifact(ref string) map[string]any {
	return map[string]any{"image_reference": ref}
}

func TestRequiresAuthentication(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, http.MethodGet, "/kyc/session", "", "", nil)
	testutil.AssertError(t, rr, http.StatusUnauthorized, dErrors.CodeUnauthorized)
}

func TestVerificationFlow(t *testing.T) {
	h := newHarness(t)
	user := uuid.NewString()

	rr := h.do(t, http.MethodPost, "/kyc/session", user, "user", nil)
	testutil.AssertStatus(t, rr, http.StatusCreated)
	session := testutil.Decode[SessionResponse](t, rr)
	assert.Equal(t, "created", session.Status)
	assert.Len(t, session.Documents, 2)

	rr = h.do(t, http.MethodPut, "/kyc/personal-info", user, "user", personalInfoBody(30))
	testutil.AssertStatus(t, rr, http.StatusOK)
	session = testutil.Decode[SessionResponse](t, rr)
	require.NotNil(t, session.PersonalInfo)
	assert.Equal(t, "+12015550123", session.PersonalInfo.Phone)
	assert.Equal(t, 25, session.Progress)

	rr = h.do(t, http.MethodPost, "/kyc/documents/government_id", user, "user", artifact("file://id-front.jpg"))
	testutil.AssertStatus(t, rr, http.StatusOK)
	session = testutil.Decode[SessionResponse](t, rr)
	doc := session.Documents[0]
	require.NotNil(t, doc.Analysis)
	assert.Equal(t, "verified", doc.Status)
	assert.True(t, strings.HasPrefix(doc.Analysis.Fields.DocumentNumber, "*****"), "document number is masked")

	rr = h.do(t, http.MethodPost, "/kyc/documents/proof_of_address", user, "user", artifact("file://bill.pdf"))
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr = h.do(t, http.MethodPost, "/kyc/biometric", user, "user", artifact("file://selfie.jpg"))
	testutil.AssertStatus(t, rr, http.StatusOK)
	session = testutil.Decode[SessionResponse](t, rr)
	require.NotNil(t, session.Biometric)
	require.NotNil(t, session.Biometric.Analysis)
	assert.NotNil(t, session.Biometric.Analysis.FaceMatchScore, "selfie is matched against the verified id")
	assert.Equal(t, 100, session.Progress)

	rr = h.do(t, http.MethodGet, "/kyc/status", user, "user", nil)
	testutil.AssertField(t, rr, "approved", false)

	rr = h.do(t, http.MethodPost, "/kyc/finalize", user, "user", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	session = testutil.Decode[SessionResponse](t, rr)
	assert.Equal(t, "completed", session.Status)
	assert.Equal(t, "low", session.RiskLevel)
	assert.Equal(t, 100, session.OverallScore)
	assert.Len(t, session.CompletedSteps, 4)
	assert.Empty(t, session.ComplianceFlags)

	rr = h.do(t, http.MethodGet, "/kyc/status", user, "user", nil)
	testutil.AssertField(t, rr, "approved", true)

	rr = h.do(t, http.MethodGet, "/kyc/progress", user, "user", nil)
	assert.Equal(t, 100, testutil.Decode[ProgressResponse](t, rr).Progress)

	rr = h.do(t, http.MethodPost, "/kyc/documents/government_id", user, "user", artifact("file://late.jpg"))
	testutil.AssertError(t, rr, http.StatusConflict, dErrors.CodeConflict)
}

func TestRejectionsAreOutcomes(t *testing.T) {
	h := newHarness(t)
	user := uuid.NewString()
	testutil.AssertStatus(t, h.do(t, http.MethodPost, "/kyc/session", user, "user", nil), http.StatusCreated)

	rr := h.do(t, http.MethodPost, "/kyc/documents/government_id", user, "user", artifact(analyzer.DemoDocumentTampered))
	testutil.AssertStatus(t, rr, http.StatusOK)
	session := testutil.Decode[SessionResponse](t, rr)
	assert.Equal(t, "rejected", session.Documents[0].Status)
	assert.Contains(t, session.ComplianceFlags, models.FlagTampering)
	assert.Contains(t, session.FailedSteps, "document:government_id")

	rr = h.do(t, http.MethodPost, "/kyc/biometric", user, "user", artifact(analyzer.DemoSelfieSpoof))
	testutil.AssertStatus(t, rr, http.StatusOK)
	session = testutil.Decode[SessionResponse](t, rr)
	assert.Equal(t, "rejected", session.Biometric.Status)
	assert.Contains(t, session.ComplianceFlags, models.FlagPrintAttack)

	rr = h.do(t, http.MethodPost, "/kyc/biometric/retry", user, "user", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	session = testutil.Decode[SessionResponse](t, rr)
	assert.Equal(t, 2, session.Biometric.Attempts)
}

func TestCallerErrors(t *testing.T) {
	h := newHarness(t)
	user := uuid.NewString()
	testutil.AssertStatus(t, h.do(t, http.MethodPost, "/kyc/session", user, "user", nil), http.StatusCreated)

	t.Run("duplicate session", func(t *testing.T) {
		rr := h.do(t, http.MethodPost, "/kyc/session", user, "user", nil)
		testutil.AssertError(t, rr, http.StatusConflict, dErrors.CodeConflict)
	})

	t.Run("reset replaces the session", func(t *testing.T) {
		rr := h.do(t, http.MethodPost, "/kyc/session", user, "user", map[string]any{"reset": true})
		testutil.AssertStatus(t, rr, http.StatusCreated)
	})

	t.Run("unknown document", func(t *testing.T) {
		rr := h.do(t, http.MethodPost, "/kyc/documents/passport", user, "user", artifact("file://p.jpg"))
		body := testutil.AssertError(t, rr, http.StatusNotFound, dErrors.CodeNotFound)
		assert.Equal(t, "unknown_document", body.Reason)
	})

	t.Run("blank image reference", func(t *testing.T) {
		rr := h.do(t, http.MethodPost, "/kyc/biometric", user, "user", artifact("  "))
		body := testutil.AssertError(t, rr, http.StatusUnprocessableEntity, dErrors.CodeValidation)
		assert.Equal(t, []string{"image_reference"}, body.FieldNames())
	})

	t.Run("unknown body field", func(t *testing.T) {
		rr := h.do(t, http.MethodPost, "/kyc/biometric", user, "user", map[string]any{"image": "x"})
		testutil.AssertError(t, rr, http.StatusBadRequest, dErrors.CodeBadRequest)
	})

	t.Run("retry without a prior submission", func(t *testing.T) {
		rr := h.do(t, http.MethodPost, "/kyc/documents/government_id/retry", user, "user", nil)
		body := testutil.AssertError(t, rr, http.StatusConflict, dErrors.CodeConflict)
		assert.Equal(t, "nothing_to_retry", body.Reason)
	})

	t.Run("underage personal info names the field", func(t *testing.T) {
		rr := h.do(t, http.MethodPut, "/kyc/personal-info", user, "user", personalInfoBody(17))
		body := testutil.AssertError(t, rr, http.StatusUnprocessableEntity, dErrors.CodeValidation)
		assert.Equal(t, []string{"date_of_birth"}, body.FieldNames())
	})

	t.Run("no session", func(t *testing.T) {
		stranger := uuid.NewString()
		rr := h.do(t, http.MethodGet, "/kyc/session", stranger, "user", nil)
		testutil.AssertError(t, rr, http.StatusNotFound, dErrors.CodeNotFound)

		rr = h.do(t, http.MethodGet, "/kyc/status", stranger, "user", nil)
		testutil.AssertStatus(t, rr, http.StatusOK)
		testutil.AssertField(t, rr, "approved", false)
	})
}

func TestDemoApproval(t *testing.T) {
	t.Run("route absent unless enabled", func(t *testing.T) {
		h := newHarness(t)
		rr := h.do(t, http.MethodPost, "/kyc/demo/approve", uuid.NewString(), service.RoleAdmin, nil)
		testutil.AssertStatus(t, rr, http.StatusNotFound)
	})

	t.Run("route absent in production", func(t *testing.T) {
		h := newHarness(t, service.WithDemoApproval(true, true))
		rr := h.do(t, http.MethodPost, "/kyc/demo/approve", uuid.NewString(), service.RoleAdmin, nil)
		testutil.AssertStatus(t, rr, http.StatusNotFound)
	})

	h := newHarness(t, service.WithDemoApproval(true, false))

	t.Run("regular users are refused", func(t *testing.T) {
		rr := h.do(t, http.MethodPost, "/kyc/demo/approve", uuid.NewString(), "user", nil)
		testutil.AssertStatus(t, rr, http.StatusForbidden)
	})

	t.Run("demo role approves itself", func(t *testing.T) {
		rr := h.do(t, http.MethodPost, "/kyc/demo/approve", uuid.NewString(), service.RoleDemo, nil)
		testutil.AssertStatus(t, rr, http.StatusOK)
		session := testutil.Decode[SessionResponse](t, rr)
		assert.Equal(t, "completed", session.Status)
		assert.Equal(t, service.RoleDemo, session.ApprovedBy)
		assert.Contains(t, session.ComplianceFlags, models.FlagAutoApproved)
	})

	t.Run("demo role cannot approve others", func(t *testing.T) {
		rr := h.do(t, http.MethodPost, "/kyc/demo/approve", uuid.NewString(), service.RoleDemo,
			map[string]any{"user_id": uuid.NewString()})
		testutil.AssertError(t, rr, http.StatusForbidden, dErrors.CodeForbidden)
	})

	t.Run("admin approves another user", func(t *testing.T) {
		target := uuid.NewString()
		rr := h.do(t, http.MethodPost, "/kyc/demo/approve", uuid.NewString(), service.RoleAdmin,
			map[string]any{"user_id": target})
		testutil.AssertStatus(t, rr, http.StatusOK)

		rr = h.do(t, http.MethodGet, "/kyc/status", target, "user", nil)
		testutil.AssertField(t, rr, "approved", true)
	})
}
