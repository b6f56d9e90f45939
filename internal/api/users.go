package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/harrylevesque/storeapi/internal/auth"
	"github.com/harrylevesque/storeapi/internal/models"
	"github.com/harrylevesque/storeapi/internal/store"
)

// UserStore persists users.
type UserStore interface {
	List() ([]models.User, error)
	Get(id string) (*models.User, error)
	Create(user *models.User) error
	Update(user *models.User) error
	Delete(id string) error
}

// Users serves the /users endpoints.
type Users struct {
	store UserStore
}

// NewUsers registers the user endpoints on r, backed by conn.
func NewUsers(r *mux.Router, conn store.Sessioner) *Users {
	return newUsers(r, store.NewUsers(conn))
}

func newUsers(r *mux.Router, s UserStore) *Users {
	c := &Users{store: s}
	r.HandleFunc("/users", c.list).Methods(http.MethodGet)
	r.HandleFunc("/users", c.create).Methods(http.MethodPost)
	r.HandleFunc("/users/{id}", c.get).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}", c.update).Methods(http.MethodPut)
	r.HandleFunc("/users/{id}", c.remove).Methods(http.MethodDelete)
	return c
}

type userInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in *userInput) decodeForm(form url.Values) error {
	in.Name = form.Get("name")
	in.Email = form.Get("email")
	in.Password = form.Get("password")
	return nil
}

func (in *userInput) validate(creating bool) error {
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		return errors.NotValidf("email %q", in.Email)
	}
	if creating {
		switch {
		case in.Name == "":
			return errors.NotValidf("empty name")
		case in.Email == "":
			return errors.NotValidf("empty email")
		case in.Password == "":
			return errors.NotValidf("empty password")
		}
	}
	return nil
}

func (c *Users) list(w http.ResponseWriter, r *http.Request) {
	users, err := c.store.List()
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSONResponse(w, http.StatusOK, users)
}

func (c *Users) get(w http.ResponseWriter, r *http.Request) {
	user, err := c.store.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSONResponse(w, http.StatusOK, user)
}

func (c *Users) create(w http.ResponseWriter, r *http.Request) {
	var in userInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := in.validate(true); err != nil {
		writeError(w, r, err)
		return
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		writeError(w, r, errors.Annotate(err, "hashing password"))
		return
	}
	user := &models.User{Name: in.Name, Email: in.Email, PasswordHash: hash}
	if err := c.store.Create(user); err != nil {
		writeError(w, r, err)
		return
	}
	JSONResponse(w, http.StatusCreated, user)
}

func (c *Users) update(w http.ResponseWriter, r *http.Request) {
	var in userInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := in.validate(false); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := c.store.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if in.Name != "" {
		user.Name = in.Name
	}
	if in.Email != "" {
		user.Email = in.Email
	}
	if in.Password != "" {
		if user.PasswordHash, err = auth.HashPassword(in.Password); err != nil {
			writeError(w, r, errors.Annotate(err, "hashing password"))
			return
		}
	}
	if err := c.store.Update(user); err != nil {
		writeError(w, r, err)
		return
	}
	JSONResponse(w, http.StatusOK, user)
}

func (c *Users) remove(w http.ResponseWriter, r *http.Request) {
	if err := c.store.Delete(mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
