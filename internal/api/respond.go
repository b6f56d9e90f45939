package api

import (
	"encoding/json"
	"net/http"

	"github.com/juju/errors"
	"github.com/rs/zerolog/hlog"

	"github.com/harrylevesque/storeapi/internal/database"
	"github.com/harrylevesque/storeapi/internal/utils"
)

// JSONResponse writes a JSON response.
func JSONResponse(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// ErrorResponse writes a {code, message} body with the given status.
func ErrorResponse(w http.ResponseWriter, status int, message string) {
	JSONResponse(w, status, utils.CustomError{Code: status, Message: message})
}

// NotFound answers every request no route claims.
func NotFound(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, http.StatusNotFound, "not found")
}

// writeError maps err to a status code and writes it.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, database.ErrNotConnected):
		ErrorResponse(w, http.StatusServiceUnavailable, "database unavailable")
	case errors.Is(err, ErrBodyTooLarge):
		ErrorResponse(w, http.StatusRequestEntityTooLarge, string(ErrBodyTooLarge))
	case errors.Is(err, errors.NotFound):
		ErrorResponse(w, http.StatusNotFound, "not found")
	case errors.Is(err, errors.AlreadyExists):
		ErrorResponse(w, http.StatusConflict, errors.Cause(err).Error())
	case errors.Is(err, errors.NotValid), errors.Is(err, errors.BadRequest):
		ErrorResponse(w, http.StatusBadRequest, errors.Cause(err).Error())
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		ErrorResponse(w, http.StatusInternalServerError, "internal server error")
	}
}
