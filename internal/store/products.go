package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/harrylevesque/storeapi/internal/models"
)

// Products stores product documents in the "products" collection.
type Products struct {
	coll collection[models.Product]
	now  func() time.Time
}

// NewProducts returns a product store over conn.
func NewProducts(conn Sessioner) *Products {
	return &Products{
		coll: collection[models.Product]{conn: conn, name: "products", kind: "product"},
		now:  time.Now,
	}
}

func (p *Products) List() ([]models.Product, error) {
	return p.coll.all()
}

func (p *Products) Get(id string) (*models.Product, error) {
	return p.coll.get(id)
}

// Create assigns an id and timestamps to product and inserts it.
func (p *Products) Create(product *models.Product) error {
	product.ID = "p-" + uuid.New().String()
	product.CreatedAt = p.now().UTC()
	product.UpdatedAt = product.CreatedAt
	return errors.Trace(p.coll.insert(product))
}

func (p *Products) Update(product *models.Product) error {
	product.UpdatedAt = p.now().UTC()
	return errors.Trace(p.coll.replace(product.ID, product))
}

func (p *Products) Delete(id string) error {
	return p.coll.remove(id)
}
