package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"calculator-api/internal/model"
	"calculator-api/pkg/apierror"
)

const maxBodyBytes = 1 << 20

const credentialsMessage = "Could not validate credentials"

func writeSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "Unexpected server error",
	}

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
		if apiErr.Challenge != "" {
			w.Header().Set("WWW-Authenticate", apiErr.Challenge)
		}
	} else if errors.Is(err, model.ErrInvalidCredentials) {
		status = http.StatusUnauthorized
		body.Code = "UNAUTHORIZED"
		body.Message = credentialsMessage
		w.Header().Set("WWW-Authenticate", "Bearer")
	} else if errors.Is(err, model.ErrInactiveUser) {
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
		body.Message = "Inactive user"
	} else if errors.Is(err, model.ErrUserNotFound) {
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = "User not found"
	} else if errors.Is(err, model.ErrUserAlreadyExists) {
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
		body.Message = "Username or email already exists"
	} else {
		slog.Error("unhandled error in writeError", "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}

// decodeJSON reads a size-limited JSON body into dst. An empty body yields
// io.EOF so handlers with optional payloads can accept it.
func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

func invalidBody() error {
	return apierror.BadRequest("invalid JSON body", "")
}
