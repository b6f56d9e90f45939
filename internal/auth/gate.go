// Package auth holds the shared-secret access gate and password hashing.
package auth

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/harrylevesque/storeapi/internal/utils"
)

// TokenHeader carries the shared secret on every request.
const TokenHeader = "x-access-token"

// Messages returned in the 401 body.
const (
	MsgNoToken     = "No token provided"
	MsgInvalidAuth = "Failed to authenticate token"
)

// Gate returns middleware that lets a request through only when its
// x-access-token header equals token exactly.
func Gate(token string, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(TokenHeader)
			switch {
			case provided == "":
				reject(w, r, logger, MsgNoToken)
			case provided != token:
				reject(w, r, logger, MsgInvalidAuth)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, message string) {
	logger.Warn().
		Str("path", r.URL.Path).
		Str("remote_addr", r.RemoteAddr).
		Msg(message)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(utils.CustomError{Code: http.StatusUnauthorized, Message: message})
}
