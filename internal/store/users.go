package store

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/harrylevesque/storeapi/internal/models"
)

// Users stores user documents in the "users" collection. Emails are
// unique.
type Users struct {
	coll    collection[models.User]
	indexed atomic.Bool
	now     func() time.Time
}

// NewUsers returns a user store over conn.
func NewUsers(conn Sessioner) *Users {
	return &Users{
		coll: collection[models.User]{conn: conn, name: "users", kind: "user"},
		now:  time.Now,
	}
}

func (u *Users) List() ([]models.User, error) {
	return u.coll.all()
}

func (u *Users) Get(id string) (*models.User, error) {
	return u.coll.get(id)
}

// Create assigns an id and timestamps to user and inserts it.
func (u *Users) Create(user *models.User) error {
	if err := u.ensureIndexes(); err != nil {
		return errors.Trace(err)
	}
	user.ID = "u-" + uuid.New().String()
	user.Email = normalizeEmail(user.Email)
	user.CreatedAt = u.now().UTC()
	user.UpdatedAt = user.CreatedAt
	return errors.Trace(u.coll.insert(user))
}

func (u *Users) Update(user *models.User) error {
	if err := u.ensureIndexes(); err != nil {
		return errors.Trace(err)
	}
	user.Email = normalizeEmail(user.Email)
	user.UpdatedAt = u.now().UTC()
	return errors.Trace(u.coll.replace(user.ID, user))
}

func (u *Users) Delete(id string) error {
	return u.coll.remove(id)
}

// ensureIndexes creates the unique email index the first time a write
// succeeds in reaching the database.
func (u *Users) ensureIndexes() error {
	if u.indexed.Load() {
		return nil
	}
	if err := u.coll.ensureUnique("email"); err != nil {
		return errors.Trace(err)
	}
	u.indexed.Store(true)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
