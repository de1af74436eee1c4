package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/libris/libris/internal/middleware"
	"github.com/libris/libris/internal/service"
	"github.com/sirupsen/logrus"
)

// respondWithServiceError maps service sentinels to HTTP responses and logs
// anything unexpected.
func respondWithServiceError(w http.ResponseWriter, logger *logrus.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrRecordNotFound):
		middleware.WriteError(w, http.StatusNotFound, "NOT_FOUND", "Record not found")
	case errors.Is(err, service.ErrInvalidRecord):
		middleware.WriteError(w, http.StatusBadRequest, "INVALID_RECORD", err.Error())
	case errors.Is(err, service.ErrUsernameTaken):
		middleware.WriteError(w, http.StatusConflict, "USERNAME_TAKEN", "Username already taken")
	case errors.Is(err, service.ErrNotElevated):
		middleware.WriteError(w, http.StatusForbidden, "OTP_REQUIRED", "OTP verification required")
	default:
		logger.WithError(err).Error("Request failed")
		middleware.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
