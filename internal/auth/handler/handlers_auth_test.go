package handler

import (
	"context"
	"encoding/json"
	"io"
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
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"hireloop/internal/auth/handler/mocks"
	"hireloop/internal/auth/models"
	dErrors "hireloop/pkg/domain-errors"
)

//go:generate mockgen -source=handler.go -destination=mocks/auth-mocks.go -package=mocks Service
type AuthHandlerSuite struct {
	suite.Suite
}

func TestAuthHandlerSuite(t *testing.T) {
	suite.Run(t, new(AuthHandlerSuite))
}

func (s *AuthHandlerSuite) TestHandler_Signup() {
	s.T().Run("201 - creates credential", func(t *testing.T) {
		mockService, router := s.newHandler(t)
		created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		mockService.EXPECT().Signup(gomock.Any(), &models.SignupRequest{Email: "new@example.com", Password: "secret123"}).
			Return(&models.SignupResult{SubjectID: "sub-1", Email: "new@example.com", CreatedAt: created}, nil)

		status, body := s.do(t, router, http.MethodPost, "/auth/signup", `{"email":" NEW@example.com ","password":"secret123"}`, nil)

		assert.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "sub-1", body["subject_id"])
		assert.Equal(t, "new@example.com", body["email"])
	})

	s.T().Run("400 - invalid json body", func(t *testing.T) {
		mockService, router := s.newHandler(t)
		mockService.EXPECT().Signup(gomock.Any(), gomock.Any()).Times(0)

		status, body := s.do(t, router, http.MethodPost, "/auth/signup", `{"email": "`, nil)
		s.assertError(t, status, body, http.StatusBadRequest, dErrors.CodeInvalidInput)
	})

	s.T().Run("400 - weak secret never reaches service", func(t *testing.T) {
		mockService, router := s.newHandler(t)
		mockService.EXPECT().Signup(gomock.Any(), gomock.Any()).Times(0)

		status, body := s.do(t, router, http.MethodPost, "/auth/signup", `{"email":"a@example.com","password":"short"}`, nil)
		s.assertError(t, status, body, http.StatusBadRequest, dErrors.CodeInvalidInput)
		assert.Contains(t, body["error_description"], "password")
	})

	s.T().Run("409 - duplicate email", func(t *testing.T) {
		mockService, router := s.newHandler(t)
		mockService.EXPECT().Signup(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeAlreadyExists, "email already registered"))

		status, body := s.do(t, router, http.MethodPost, "/auth/signup", `{"email":"a@example.com","password":"secret123"}`, nil)
		s.assertError(t, status, body, http.StatusConflict, dErrors.CodeAlreadyExists)
	})

	s.T().Run("503 - store unavailable", func(t *testing.T) {
		mockService, router := s.newHandler(t)
		mockService.EXPECT().Signup(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeStoreUnavailable, "auth store unavailable"))

		status, body := s.do(t, router, http.MethodPost, "/auth/signup", `{"email":"a@example.com","password":"secret123"}`, nil)
		s.assertError(t, status, body, http.StatusServiceUnavailable, dErrors.CodeStoreUnavailable)
	})
}

func (s *AuthHandlerSuite) TestHandler_Login() {
	s.T().Run("200 - returns session artifact", func(t *testing.T) {
		mockService, router := s.newHandler(t)
		artifact := s.artifact()
		mockService.EXPECT().Login(gomock.Any(), &models.LoginRequest{Email: "user@example.com", Password: "secret123"}).
			Return(artifact, nil)

		status, body := s.do(t, router, http.MethodPost, "/auth/login", `{"email":"user@example.com","password":"secret123"}`, nil)

		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "access", body["access_token"])
		assert.Equal(t, "rt_refresh", body["refresh_token"])
		assert.Equal(t, "Bearer", body["token_type"])
		assert.EqualValues(t, 900, body["expires_in"])
		assert.Equal(t, artifact.SessionID.String(), body["session_id"])
	})

	s.T().Run("401 - invalid credentials", func(t *testing.T) {
		mockService, router := s.newHandler(t)
		mockService.EXPECT().Login(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInvalidCredentials, "invalid email or password"))

		status, body := s.do(t, router, http.MethodPost, "/auth/login", `{"email":"user@example.com","password":"nope"}`, nil)
		s.assertError(t, status, body, http.StatusUnauthorized, dErrors.CodeInvalidCredentials)
		assert.Equal(t, "invalid email or password", body["error_description"])
	})

	s.T().Run("500 - internal error hides message", func(t *testing.T) {
		mockService, router := s.newHandler(t)
		mockService.EXPECT().Login(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInternal, "signing key exploded"))

		status, body := s.do(t, router, http.MethodPost, "/auth/login", `{"email":"user@example.com","password":"secret123"}`, nil)
		s.assertError(t, status, body, http.StatusInternalServerError, dErrors.CodeInternal)
		assert.NotContains(t, body["error_description"], "exploded")
	})
}

func (s *AuthHandlerSuite) TestHandler_Refresh() {
	s.T().Run("200 - rotates", func(t *testing.T) {
		mockService, router := s.newHandler(t)
		mockService.EXPECT().Refresh(gomock.Any(), &models.RefreshRequest{RefreshToken: "rt_old"}).Return(s.artifact(), nil)

		status, body := s.do(t, router, http.MethodPost, "/auth/refresh", `{"refresh_token":"rt_old"}`, nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "rt_refresh", body["refresh_token"])
	})

	s.T().Run("401 - expired", func(t *testing.T) {
		mockService, router := s.newHandler(t)
		mockService.EXPECT().Refresh(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeTokenExpired, "refresh token expired"))

		status, body := s.do(t, router, http.MethodPost, "/auth/refresh", `{"refresh_token":"rt_old"}`, nil)
		s.assertError(t, status, body, http.StatusUnauthorized, dErrors.CodeTokenExpired)
	})

	s.T().Run("400 - missing token", func(t *testing.T) {
		mockService, router := s.newHandler(t)
		mockService.EXPECT().Refresh(gomock.Any(), gomock.Any()).Times(0)

		status, body := s.do(t, router, http.MethodPost, "/auth/refresh", `{}`, nil)
		s.assertError(t, status, body, http.StatusBadRequest, dErrors.CodeInvalidInput)
	})
}

func (s *AuthHandlerSuite) TestHandler_Logout() {
	s.T().Run("token from body", func(t *testing.T) {
		mockService, router := s.newHandler(t)
		mockService.EXPECT().Logout(gomock.Any(), &models.LogoutRequest{Token: "rt_body"}).
			Return(&models.LogoutResult{Revoked: true, Message: "session revoked"}, nil)

		status, body := s.do(t, router, http.MethodPost, "/auth/logout", `{"token":"rt_body"}`, nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["revoked"])
	})

	s.T().Run("token from bearer header when body is empty", func(t *testing.T) {
		mockService, router := s.newHandler(t)
		mockService.EXPECT().Logout(gomock.Any(), &models.LogoutRequest{Token: "header.jwt.value"}).
			Return(&models.LogoutResult{Revoked: true}, nil)

		status, _ := s.do(t, router, http.MethodPost, "/auth/logout", "", map[string]string{"Authorization": "Bearer header.jwt.value"})
		assert.Equal(t, http.StatusOK, status)
	})

	s.T().Run("401 - unknown session", func(t *testing.T) {
		mockService, router := s.newHandler(t)
		mockService.EXPECT().Logout(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid token"))

		status, body := s.do(t, router, http.MethodPost, "/auth/logout", `{"token":"rt_gone"}`, nil)
		s.assertError(t, status, body, http.StatusUnauthorized, dErrors.CodeTokenInvalid)
	})
}

func (s *AuthHandlerSuite) TestHandler_SetStatus() {
	subjectID := uuid.New()

	s.T().Run("200 - forwards subject and status", func(t *testing.T) {
		mockService, router := s.newHandler(t)
		mockService.EXPECT().SetAccountStatus(gomock.Any(), subjectID, &models.SetStatusRequest{Status: "disabled"}).
			Return(&models.StatusResult{SubjectID: subjectID.String(), Status: "disabled", SessionsRevoked: 2}, nil)

		status, body := s.do(t, router, http.MethodPost, "/admin/auth/users/"+subjectID.String()+"/status", `{"status":"DISABLED"}`, nil)
		assert.Equal(t, http.StatusOK, status)
		assert.EqualValues(t, 2, body["sessions_revoked"])
	})

	s.T().Run("400 - malformed subject id", func(t *testing.T) {
		mockService, router := s.newHandler(t)
		mockService.EXPECT().SetAccountStatus(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		status, body := s.do(t, router, http.MethodPost, "/admin/auth/users/not-a-uuid/status", `{"status":"disabled"}`, nil)
		s.assertError(t, status, body, http.StatusBadRequest, dErrors.CodeInvalidInput)
	})

	s.T().Run("404 - unknown subject", func(t *testing.T) {
		mockService, router := s.newHandler(t)
		mockService.EXPECT().SetAccountStatus(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "subject not found"))

		status, body := s.do(t, router, http.MethodPost, "/admin/auth/users/"+subjectID.String()+"/status", `{"status":"active"}`, nil)
		s.assertError(t, status, body, http.StatusNotFound, dErrors.CodeNotFound)
	})
}

func (s *AuthHandlerSuite) newHandler(t *testing.T) (*mocks.MockService, *chi.Mux) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockService := mocks.NewMockService(ctrl)
	handler := New(mockService, logger)
	r := chi.NewRouter()
	handler.Register(r)
	handler.RegisterAdmin(r)
	return mockService, r
}

func (s *AuthHandlerSuite) artifact() *models.SessionArtifact {
	issued := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &models.SessionArtifact{
		AccessToken:      "access",
		RefreshToken:     "rt_refresh",
		SubjectID:        uuid.New(),
		SessionID:        uuid.New(),
		IssuedAt:         issued,
		ExpiresAt:        issued.Add(15 * time.Minute),
		RefreshExpiresAt: issued.Add(24 * time.Hour),
	}
}

func (s *AuthHandlerSuite) do(t *testing.T, router http.Handler, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequestWithContext(context.Background(), method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	} else {
		req.ContentLength = 0
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var decoded map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &decoded))
	}
	return rr.Code, decoded
}

func (s *AuthHandlerSuite) assertError(t *testing.T, status int, body map[string]any, expectedStatus int, expectedCode dErrors.Code) {
	t.Helper()
	assert.Equal(t, expectedStatus, status)
	assert.Equal(t, string(expectedCode), body["error"])
}
