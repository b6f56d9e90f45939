// Package store persists the API resources in MongoDB collections reached
// through the supervised database connection.
package store

import (
	"github.com/juju/errors"
	"github.com/juju/mgo/v3"
)

// Sessioner hands out per-request copies of the live database session.
// *database.Conn implements it.
type Sessioner interface {
	Mongo() (*mgo.Session, error)
}

// collection runs typed operations against one named collection. Every
// call takes its own session copy, so a reconnect between calls is
// picked up transparently.
type collection[T any] struct {
	conn Sessioner
	name string
	// kind names a document in error messages.
	kind string
}

func (c collection[T]) with(f func(*mgo.Collection) error) error {
	session, err := c.conn.Mongo()
	if err != nil {
		return errors.Trace(err)
	}
	defer session.Close()
	return f(session.DB("").C(c.name))
}

func (c collection[T]) all() ([]T, error) {
	docs := []T{}
	err := c.with(func(coll *mgo.Collection) error {
		return coll.Find(nil).Sort("created_at").All(&docs)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "listing %ss", c.kind)
	}
	return docs, nil
}

func (c collection[T]) get(id string) (*T, error) {
	var doc T
	err := c.with(func(coll *mgo.Collection) error {
		return coll.FindId(id).One(&doc)
	})
	if err == mgo.ErrNotFound {
		return nil, errors.NotFoundf("%s %q", c.kind, id)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "getting %s %q", c.kind, id)
	}
	return &doc, nil
}

func (c collection[T]) insert(doc *T) error {
	err := c.with(func(coll *mgo.Collection) error {
		return coll.Insert(doc)
	})
	if mgo.IsDup(err) {
		return errors.AlreadyExistsf(c.kind)
	}
	return errors.Annotatef(err, "inserting %s", c.kind)
}

func (c collection[T]) replace(id string, doc *T) error {
	err := c.with(func(coll *mgo.Collection) error {
		return coll.UpdateId(id, doc)
	})
	switch {
	case err == mgo.ErrNotFound:
		return errors.NotFoundf("%s %q", c.kind, id)
	case mgo.IsDup(err):
		return errors.AlreadyExistsf(c.kind)
	}
	return errors.Annotatef(err, "updating %s %q", c.kind, id)
}

func (c collection[T]) remove(id string) error {
	err := c.with(func(coll *mgo.Collection) error {
		return coll.RemoveId(id)
	})
	if err == mgo.ErrNotFound {
		return errors.NotFoundf("%s %q", c.kind, id)
	}
	return errors.Annotatef(err, "removing %s %q", c.kind, id)
}

func (c collection[T]) ensureUnique(key string) error {
	err := c.with(func(coll *mgo.Collection) error {
		return coll.EnsureIndex(mgo.Index{Key: []string{key}, Unique: true})
	})
	return errors.Annotatef(err, "indexing %s.%s", c.name, key)
}
