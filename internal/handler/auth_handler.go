package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"calculator-api/internal/middleware"
	"calculator-api/internal/model"
	"calculator-api/internal/service"
	"calculator-api/pkg/apierror"
)

type AuthHandler struct {
	service *service.AuthService
}

func NewAuthHandler(service *service.AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload model.RegisterRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, invalidBody())
		return
	}

	user, err := h.service.Register(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, invalidBody())
		return
	}
	if err := payload.Validate(); err != nil {
		writeError(w, apierror.BadRequest("validation failed", err.Error()))
		return
	}

	result, err := h.service.Login(r.Context(), strings.TrimSpace(payload.UsernameOrEmail), payload.Password)
	if err != nil {
		writeError(w, loginError(err))
		return
	}

	writeSuccess(w, http.StatusOK, model.NewTokenResponse(result))
}

// Token is the form-encoded login used by OAuth2 password-flow clients.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, apierror.BadRequest("invalid form body", ""))
		return
	}

	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	if username == "" || password == "" {
		writeError(w, apierror.BadRequest("username and password are required", ""))
		return
	}

	result, err := h.service.Login(r.Context(), username, password)
	if err != nil {
		writeError(w, loginError(err))
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{
		"access_token": result.AccessToken,
		"token_type":   result.TokenType,
	})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var payload model.RefreshRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, invalidBody())
		return
	}

	payload.RefreshToken = strings.TrimSpace(payload.RefreshToken)
	if payload.RefreshToken == "" {
		writeError(w, apierror.BadRequest("refresh_token is required", "refresh_token"))
		return
	}

	result, err := h.service.Refresh(r.Context(), payload.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.NewTokenResponse(result))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrInvalidCredentials)
		return
	}

	var payload model.RefreshRequest
	if err := decodeJSON(r, &payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, invalidBody())
		return
	}

	if err := h.service.Logout(r.Context(), session.Claims, strings.TrimSpace(payload.RefreshToken)); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.MessageResponse{Message: "Logged out"})
}

func loginError(err error) error {
	if errors.Is(err, model.ErrInvalidCredentials) {
		return apierror.Unauthorized("Invalid username or password")
	}
	return err
}
