package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kycflow/internal/kyc/analyzer"
	"kycflow/internal/kyc/models"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/circuit"
)

const (
	remoteID            = "remote"
	maxResponseBytes    = 1 << 20
	defaultPollInterval = time.Second
)

// RemoteAdapter talks to an external verification service over HTTP JSON.
// Checks are submitted once and then polled until the service reports a
// terminal status or ctx ends.
type RemoteAdapter struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	pollInterval time.Duration
	imageRoot    string
	breaker      *circuit.Breaker
	logger       *slog.Logger
}

type RemoteOption func(*RemoteAdapter)

func WithHTTPClient(c *http.Client) RemoteOption {
	return func(a *RemoteAdapter) {
		a.client = c
	}
}

func WithPollInterval(d time.Duration) RemoteOption {
	return func(a *RemoteAdapter) {
		if d > 0 {
			a.pollInterval = d
		}
	}
}

// WithArtifactRoot uploads "file://" artifacts below root as file parts
// instead of forwarding the bare reference.
func WithArtifactRoot(root string) RemoteOption {
	return func(a *RemoteAdapter) {
		a.imageRoot = root
	}
}

func WithBreaker(b *circuit.Breaker) RemoteOption {
	return func(a *RemoteAdapter) {
		a.breaker = b
	}
}

func WithLogger(logger *slog.Logger) RemoteOption {
	return func(a *RemoteAdapter) {
		a.logger = logger
	}
}

func NewRemote(baseURL, apiKey string, opts ...RemoteOption) *RemoteAdapter {
	a := &RemoteAdapter{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: defaultPollInterval,
		breaker:      circuit.New(remoteID),
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *RemoteAdapter) ID() string { return remoteID }

type openSessionRequest struct {
	ExternalID string `json:"external_id"`
}

type sessionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// checkResponse is both the submit response and the poll response.
type checkResponse struct {
	CheckID   string                    `json:"check_id"`
	Status    string                    `json:"status"`
	Reason    string                    `json:"reason,omitempty"`
	Document  *models.DocumentAnalysis  `json:"document,omitempty"`
	Biometric *models.BiometricAnalysis `json:"biometric,omitempty"`
}

func (a *RemoteAdapter) OpenSession(ctx context.Context, userID id.UserID) (string, error) {
	body, err := json.Marshal(openSessionRequest{ExternalID: userID.String()})
	if err != nil {
		return "", NewError(ErrorInternal, remoteID, "encode session request", err)
	}
	var resp sessionResponse
	if err := a.call(ctx, http.MethodPost, "/sessions", bytes.NewReader(body), "application/json", &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", NewError(ErrorContractMismatch, remoteID, "session response has no id", nil)
	}
	return resp.ID, nil
}

func (a *RemoteAdapter) AnalyzeDocument(ctx context.Context, req DocumentRequest) (*DocumentResult, error) {
	fields := map[string]string{
		"document_id":   req.DocumentID,
		"document_type": string(req.DocumentType),
	}
	check, err := a.submitCheck(ctx, req.ProviderSessionID, "documents", req.Reference, fields)
	if err != nil {
		return nil, err
	}
	status := MapStatus(check.Status)
	if status == models.RecordVerified && check.Document == nil {
		return nil, NewError(ErrorContractMismatch, remoteID, "approved check carries no document analysis", nil)
	}
	return &DocumentResult{
		CheckID:  check.CheckID,
		Status:   status,
		Reason:   check.Reason,
		Analysis: check.Document,
	}, nil
}

func (a *RemoteAdapter) AnalyzeBiometric(ctx context.Context, req BiometricRequest) (*BiometricResult, error) {
	fields := map[string]string{}
	if req.ReferencePhoto != "" {
		fields["reference_photo"] = req.ReferencePhoto
	}
	check, err := a.submitCheck(ctx, req.ProviderSessionID, "biometrics", req.Reference, fields)
	if err != nil {
		return nil, err
	}
	status := MapStatus(check.Status)
	if status == models.RecordVerified && check.Biometric == nil {
		return nil, NewError(ErrorContractMismatch, remoteID, "approved check carries no biometric analysis", nil)
	}
	return &BiometricResult{
		CheckID:  check.CheckID,
		Status:   status,
		Reason:   check.Reason,
		Analysis: check.Biometric,
	}, nil
}

func (a *RemoteAdapter) CloseSession(ctx context.Context, providerSessionID string) error {
	return a.call(ctx, http.MethodPost, "/sessions/"+url.PathEscape(providerSessionID)+"/finalize", nil, "", nil)
}

func (a *RemoteAdapter) Health(ctx context.Context) error {
	return a.call(ctx, http.MethodGet, "/health", nil, "", nil)
}

// submitCheck uploads one artifact and polls the resulting check until the
// service reaches a verdict.
func (a *RemoteAdapter) submitCheck(ctx context.Context, sessionID, kind, reference string, fields map[string]string) (checkResponse, error) {
	if sessionID == "" {
		return checkResponse{}, NewError(ErrorBadData, remoteID, "provider session id is required", nil)
	}
	body, contentType, err := a.artifactBody(reference, fields)
	if err != nil {
		return checkResponse{}, err
	}

	base := "/sessions/" + url.PathEscape(sessionID)
	var check checkResponse
	if err := a.call(ctx, http.MethodPost, base+"/"+kind, body, contentType, &check); err != nil {
		return checkResponse{}, err
	}
	if check.CheckID == "" {
		return checkResponse{}, NewError(ErrorContractMismatch, remoteID, "check response has no id", nil)
	}

	for !IsTerminal(MapStatus(check.Status)) {
		timer := time.NewTimer(a.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return checkResponse{}, NewError(ErrorTimeout, remoteID, "check "+check.CheckID+" still "+check.Status, ctx.Err())
		case <-timer.C:
		}
		checkID := check.CheckID
		if err := a.call(ctx, http.MethodGet, base+"/checks/"+url.PathEscape(checkID), nil, "", &check); err != nil {
			return checkResponse{}, err
		}
		if check.CheckID == "" {
			check.CheckID = checkID
		}
	}
	return check, nil
}

// artifactBody builds the multipart upload. A resolvable file reference is
// attached as the "artifact" part; anything else travels as a reference.
func (a *RemoteAdapter) artifactBody(reference string, fields map[string]string) (io.Reader, string, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, "", NewError(ErrorBadData, remoteID, "artifact reference is required", nil)
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", NewError(ErrorInternal, remoteID, "encode artifact metadata", err)
		}
	}
	if err := w.WriteField("artifact_reference", reference); err != nil {
		return nil, "", NewError(ErrorInternal, remoteID, "encode artifact metadata", err)
	}

	if path, ok := analyzer.ResolvePath(a.imageRoot, reference); ok {
		f, err := os.Open(path)
		if err != nil {
			return nil, "", NewError(ErrorBadData, remoteID, "open artifact", err)
		}
		defer f.Close()
		part, err := w.CreateFormFile("artifact", filepath.Base(path))
		if err != nil {
			return nil, "", NewError(ErrorInternal, remoteID, "encode artifact", err)
		}
		if _, err := io.Copy(part, f); err != nil {
			return nil, "", NewError(ErrorBadData, remoteID, "read artifact", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", NewError(ErrorInternal, remoteID, "encode artifact", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// call performs one request through the circuit breaker and decodes the
// JSON response into out when out is non-nil.
func (a *RemoteAdapter) call(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	if !a.breaker.Allow(time.Now()) {
		return NewError(ErrorProviderOutage, remoteID, "circuit open", nil)
	}
	err := a.roundTrip(ctx, method, path, body, contentType, out)
	a.recordOutcome(ctx, err)
	return err
}

func (a *RemoteAdapter) roundTrip(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return NewError(ErrorInternal, remoteID, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", a.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return NewError(ErrorTimeout, remoteID, method+" "+path, err)
		}
		return NewError(ErrorProviderOutage, remoteID, method+" "+path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return NewError(ErrorProviderOutage, remoteID, "read response", err)
	}
	if perr := classifyStatus(resp.StatusCode, raw); perr != nil {
		return perr
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return NewError(ErrorContractMismatch, remoteID, "decode response", err)
	}
	return nil
}

func classifyStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	msg := fmt.Sprintf("status %d: %s", code, strings.TrimSpace(string(body)))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return NewError(ErrorAuthentication, remoteID, msg, nil)
	case code == http.StatusTooManyRequests:
		return NewError(ErrorRateLimited, remoteID, msg, nil)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return NewError(ErrorTimeout, remoteID, msg, nil)
	case code >= 500:
		return NewError(ErrorProviderOutage, remoteID, msg, nil)
	default:
		return NewError(ErrorBadData, remoteID, msg, nil)
	}
}

// recordOutcome feeds the breaker. Only transient failures count against
// the provider; a bad request says nothing about its availability.
func (a *RemoteAdapter) recordOutcome(ctx context.Context, err error) {
	if err != nil && IsRetryable(err) {
		if _, change := a.breaker.RecordFailure(); change.Opened {
			a.logger.WarnContext(ctx, "verification provider circuit opened", "provider", remoteID, "error", err)
		}
		return
	}
	if _, change := a.breaker.RecordSuccess(); change.Closed {
		a.logger.InfoContext(ctx, "verification provider circuit closed", "provider", remoteID)
	}
}
