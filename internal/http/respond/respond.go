// Package respond writes JSON bodies and classified error bodies.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/telehealth-booking/internal/booking"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Error writes err as {"error": kind, "message": text}. Unclassified errors
// are logged and reported as internal without leaking their text.
func Error(w http.ResponseWriter, logger *logging.Logger, err error) {
	status := booking.HTTPStatus(err)
	var be *booking.Error
	if !errors.As(err, &be) {
		if logger != nil {
			logger.Error("unclassified request failure", "error", err)
		}
		JSON(w, http.StatusInternalServerError, errorBody{Error: string(booking.KindInternal), Message: "internal error"})
		return
	}
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", "error", err, "kind", be.Kind)
	}
	msg := be.Message()
	if be.Kind == booking.KindInternal {
		msg = "internal error"
	}
	JSON(w, status, errorBody{Error: string(be.Kind), Message: msg})
}

// BadRequest writes a malformed_input error.
func BadRequest(w http.ResponseWriter, msg string) {
	JSON(w, http.StatusBadRequest, errorBody{Error: string(booking.KindMalformedInput), Message: msg})
}

// Forbidden writes a 403 body for a caller not allowed to act on a resource.
func Forbidden(w http.ResponseWriter, msg string) {
	JSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: msg})
}
