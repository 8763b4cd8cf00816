package app

import (
	"database/sql"
	"errors"
	"net/http"

	"agora/api/internal/apperr"
	"agora/api/internal/auth"
)

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation: http.StatusUnprocessableEntity,
	apperr.KindNotFound:   http.StatusNotFound,
	apperr.KindConflict:   http.StatusConflict,
	apperr.KindForbidden:  http.StatusForbidden,
	apperr.KindAtomicity:  http.StatusInternalServerError,
}

func mapError(err error) (status int, code, message string, details any) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		status, ok := kindStatus[appErr.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		return status, string(appErr.Kind), appErr.Message, appErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
