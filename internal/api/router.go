package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/harrylevesque/storeapi/internal/database"
	"github.com/harrylevesque/storeapi/internal/store"
)

// Connection is what the routes need from the database handle.
type Connection interface {
	store.Sessioner
	State() database.State
}

// NewRouter binds the resource controllers to conn and installs the
// catch-all not-found responder. conn is only referenced, never owned.
func NewRouter(conn Connection) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", HealthHandler(conn)).Methods(http.MethodGet)

	NewUsers(r, conn)
	NewProducts(r, conn)

	r.NotFoundHandler = http.HandlerFunc(NotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(NotFound)
	return r
}

// HealthHandler reports whether the database connection is live.
func HealthHandler(conn Connection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := conn.State()
		if state != database.Connected {
			JSONResponse(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "unavailable",
				"database": state.String(),
			})
			return
		}
		JSONResponse(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"database": state.String(),
		})
	}
}
