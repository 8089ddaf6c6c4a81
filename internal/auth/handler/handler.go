package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hireloop/internal/auth/models"
	dErrors "hireloop/pkg/domain-errors"
	"hireloop/pkg/platform/httputil"
	request "hireloop/pkg/platform/middleware/request"
)

// Service defines the interface for authentication operations.
type Service interface {
	Signup(ctx context.Context, req *models.SignupRequest) (*models.SignupResult, error)
	Login(ctx context.Context, req *models.LoginRequest) (*models.SessionArtifact, error)
	Refresh(ctx context.Context, req *models.RefreshRequest) (*models.SessionArtifact, error)
	Logout(ctx context.Context, req *models.LogoutRequest) (*models.LogoutResult, error)
	SetAccountStatus(ctx context.Context, subjectID uuid.UUID, req *models.SetStatusRequest) (*models.StatusResult, error)
}

// Handler serves the auth endpoints. Responses are written from the service
// result alone; event delivery never affects them.
type Handler struct {
	auth   Service
	logger *slog.Logger
}

func New(auth Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{auth: auth, logger: logger}
}

// Register registers the public auth routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/signup", h.HandleSignup)
	r.Post("/auth/login", h.HandleLogin)
	r.Post("/auth/refresh", h.HandleRefresh)
	r.Post("/auth/logout", h.HandleLogout)
}

// RegisterAdmin registers admin routes. The caller applies admin auth.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/auth/users/{subject_id}/status", h.HandleSetStatus)
}

// HandleSignup implements POST /auth/signup.
//
// Input: { "email": "user@example.com", "password": "..." }
// Output: 201 { "subject_id": "...", "email": "...", "created_at": "..." }
func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.SignupRequest](w, r, h.logger)
	if !ok {
		return
	}

	res, err := h.auth.Signup(ctx, req)
	if err != nil {
		h.writeFailure(ctx, w, "signup failed", err)
		return
	}
	h.logger.InfoContext(ctx, "signup successful",
		"request_id", request.GetRequestID(ctx),
		"subject_id", res.SubjectID,
	)
	httputil.WriteJSON(w, http.StatusCreated, res)
}

// HandleLogin implements POST /auth/login and returns a session artifact.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.LoginRequest](w, r, h.logger)
	if !ok {
		return
	}

	artifact, err := h.auth.Login(ctx, req)
	if err != nil {
		h.writeFailure(ctx, w, "login failed", err)
		return
	}
	h.logger.InfoContext(ctx, "login successful",
		"request_id", request.GetRequestID(ctx),
		"subject_id", artifact.SubjectID.String(),
		"session_id", artifact.SessionID.String(),
	)
	httputil.WriteJSON(w, http.StatusOK, models.NewSessionResult(artifact))
}

// HandleRefresh implements POST /auth/refresh.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.RefreshRequest](w, r, h.logger)
	if !ok {
		return
	}

	artifact, err := h.auth.Refresh(ctx, req)
	if err != nil {
		h.writeFailure(ctx, w, "refresh failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.NewSessionResult(artifact))
}

// HandleLogout implements POST /auth/logout. The token comes from the body
// or, when the body is empty, from the Authorization bearer header.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req *models.LogoutRequest
	if bearer := bearerToken(r); bearer != "" && r.ContentLength <= 0 {
		req = &models.LogoutRequest{Token: bearer}
		if err := httputil.PrepareRequest(req); err != nil {
			httputil.WriteError(w, err)
			return
		}
	} else {
		var ok bool
		if req, ok = httputil.DecodeAndPrepare[models.LogoutRequest](w, r, h.logger); !ok {
			return
		}
	}

	res, err := h.auth.Logout(ctx, req)
	if err != nil {
		h.writeFailure(ctx, w, "logout failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleSetStatus implements POST /admin/auth/users/{subject_id}/status.
func (h *Handler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID, err := uuid.Parse(chi.URLParam(r, "subject_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid subject_id"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.SetStatusRequest](w, r, h.logger)
	if !ok {
		return
	}

	res, err := h.auth.SetAccountStatus(ctx, subjectID, req)
	if err != nil {
		h.writeFailure(ctx, w, "set account status failed", err, "subject_id", subjectID.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// writeFailure logs client mistakes at warn and everything else at error.
func (h *Handler) writeFailure(ctx context.Context, w http.ResponseWriter, msg string, err error, attrs ...any) {
	args := append([]any{"error", err, "request_id", request.GetRequestID(ctx)}, attrs...)
	if httputil.DomainCodeToHTTPStatus(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, args...)
	} else {
		h.logger.WarnContext(ctx, msg, args...)
	}
	httputil.WriteError(w, err)
}

func bearerToken(r *http.Request) string {
	scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
