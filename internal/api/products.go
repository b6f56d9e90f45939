package api

import (
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/harrylevesque/storeapi/internal/models"
	"github.com/harrylevesque/storeapi/internal/store"
)

// ProductStore persists products.
type ProductStore interface {
	List() ([]models.Product, error)
	Get(id string) (*models.Product, error)
	Create(product *models.Product) error
	Update(product *models.Product) error
	Delete(id string) error
}

// Products serves the /products endpoints.
type Products struct {
	store ProductStore
}

// NewProducts registers the product endpoints on r, backed by conn.
func NewProducts(r *mux.Router, conn store.Sessioner) *Products {
	return newProducts(r, store.NewProducts(conn))
}

func newProducts(r *mux.Router, s ProductStore) *Products {
	c := &Products{store: s}
	r.HandleFunc("/products", c.list).Methods(http.MethodGet)
	r.HandleFunc("/products", c.create).Methods(http.MethodPost)
	r.HandleFunc("/products/{id}", c.get).Methods(http.MethodGet)
	r.HandleFunc("/products/{id}", c.update).Methods(http.MethodPut)
	r.HandleFunc("/products/{id}", c.remove).Methods(http.MethodDelete)
	return c
}

// productInput uses pointers so an update can tell "absent" from zero.
type productInput struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Stock       *int     `json:"stock"`
}

func (in *productInput) decodeForm(form url.Values) error {
	if form.Has("name") {
		v := form.Get("name")
		in.Name = &v
	}
	if form.Has("description") {
		v := form.Get("description")
		in.Description = &v
	}
	if form.Has("price") {
		v, err := strconv.ParseFloat(form.Get("price"), 64)
		if err != nil {
			return errors.NotValidf("price %q", form.Get("price"))
		}
		in.Price = &v
	}
	if form.Has("stock") {
		v, err := strconv.Atoi(form.Get("stock"))
		if err != nil {
			return errors.NotValidf("stock %q", form.Get("stock"))
		}
		in.Stock = &v
	}
	return nil
}

func (in *productInput) validate(creating bool) error {
	if creating && (in.Name == nil || *in.Name == "") {
		return errors.NotValidf("empty name")
	}
	if in.Name != nil && *in.Name == "" {
		return errors.NotValidf("empty name")
	}
	if in.Price != nil {
		switch p := *in.Price; {
		case math.IsNaN(p) || math.IsInf(p, 0):
			return errors.NotValidf("price %v", p)
		case p < 0:
			return errors.NotValidf("negative price")
		}
	}
	if in.Stock != nil && *in.Stock < 0 {
		return errors.NotValidf("negative stock")
	}
	return nil
}

func (in *productInput) apply(p *models.Product) {
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Price != nil {
		p.Price = *in.Price
	}
	if in.Stock != nil {
		p.Stock = *in.Stock
	}
}

func (c *Products) list(w http.ResponseWriter, r *http.Request) {
	products, err := c.store.List()
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSONResponse(w, http.StatusOK, products)
}

func (c *Products) get(w http.ResponseWriter, r *http.Request) {
	product, err := c.store.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSONResponse(w, http.StatusOK, product)
}

func (c *Products) create(w http.ResponseWriter, r *http.Request) {
	var in productInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := in.validate(true); err != nil {
		writeError(w, r, err)
		return
	}
	product := &models.Product{}
	in.apply(product)
	if err := c.store.Create(product); err != nil {
		writeError(w, r, err)
		return
	}
	JSONResponse(w, http.StatusCreated, product)
}

func (c *Products) update(w http.ResponseWriter, r *http.Request) {
	var in productInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := in.validate(false); err != nil {
		writeError(w, r, err)
		return
	}
	product, err := c.store.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	in.apply(product)
	if err := c.store.Update(product); err != nil {
		writeError(w, r, err)
		return
	}
	JSONResponse(w, http.StatusOK, product)
}

func (c *Products) remove(w http.ResponseWriter, r *http.Request) {
	if err := c.store.Delete(mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
