package handler

import (
	"net/http"

	"calculator-api/internal/middleware"
	"calculator-api/internal/model"
	"calculator-api/internal/service"
)

type UserHandler struct {
	service *service.AuthService
}

func NewUserHandler(service *service.AuthService) *UserHandler {
	return &UserHandler{service: service}
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrInvalidCredentials)
		return
	}

	writeSuccess(w, http.StatusOK, session.User)
}

func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrInvalidCredentials)
		return
	}

	var payload model.UpdateProfileRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, invalidBody())
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), session.User, payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user)
}

func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrInvalidCredentials)
		return
	}

	var payload model.PasswordUpdateRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, invalidBody())
		return
	}

	if err := h.service.ChangePassword(r.Context(), session.User, payload); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.MessageResponse{Message: "Password updated successfully"})
}
