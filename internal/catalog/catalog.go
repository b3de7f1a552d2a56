// Package catalog holds the read-only product specifications that can be
// overlaid on a room photo. Products come from a YAML file or from the
// built-in sample catalog.
package catalog

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrProductNotFound is returned by Get for unknown ids.
var ErrProductNotFound = errors.New("product not found")

// Category groups products in the catalog.
type Category string

const (
	CategoryCurtains   Category = "curtains"
	CategorySofaCovers Category = "sofa-covers"
	CategoryCushions   Category = "cushions"
)

// Product is a catalog entry. Dimensions are real-world centimeters.
type Product struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Category Category `yaml:"category" json:"category"`
	WidthCm  float64  `yaml:"width_cm" json:"width_cm"`
	HeightCm float64  `yaml:"height_cm" json:"height_cm"`
	ImageRef string   `yaml:"image" json:"image_ref"`
	Price    float64  `yaml:"price" json:"price"`
	Colors   []string `yaml:"colors" json:"colors,omitempty"`
}

// Validate checks the fields the overlay engine depends on.
func (p Product) Validate() error {
	if p.ID == "" {
		return errors.New("product id is required")
	}
	if !positiveFinite(p.WidthCm) || !positiveFinite(p.HeightCm) {
		return fmt.Errorf("product %s: dimensions must be positive, got %vx%v cm", p.ID, p.WidthCm, p.HeightCm)
	}
	if p.ImageRef == "" {
		return fmt.Errorf("product %s: image is required", p.ID)
	}
	return nil
}

// Catalog is an immutable, id-indexed product list.
type Catalog struct {
	products []Product
	byID     map[string]int
}

// New validates products and builds a catalog. Duplicate ids are rejected.
func New(products []Product) (*Catalog, error) {
	c := &Catalog{
		products: make([]Product, 0, len(products)),
		byID:     make(map[string]int, len(products)),
	}
	for _, p := range products {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate product id %q", p.ID)
		}
		c.byID[p.ID] = len(c.products)
		c.products = append(c.products, p)
	}
	return c, nil
}

type catalogFile struct {
	Products []Product `yaml:"products"`
}

// Load reads a YAML catalog file of the form
//
//	products:
//	  - id: curtain-1
//	    name: Classic Linen Curtain
//	    category: curtains
//	    width_cm: 140
//	    height_cm: 250
//	    image: /srv/catalog/curtain-1.png
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return New(f.Products)
}

// Get returns the product with the given id.
func (c *Catalog) Get(id string) (Product, error) {
	i, ok := c.byID[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return c.products[i], nil
}

// All returns every product in file order.
func (c *Catalog) All() []Product {
	out := make([]Product, len(c.products))
	copy(out, c.products)
	return out
}

// ByCategory returns the products in category, in file order.
func (c *Catalog) ByCategory(cat Category) []Product {
	var out []Product
	for _, p := range c.products {
		if p.Category == cat {
			out = append(out, p)
		}
	}
	return out
}

// Categories returns the distinct categories, sorted.
func (c *Catalog) Categories() []Category {
	seen := make(map[Category]bool)
	var out []Category
	for _, p := range c.products {
		if !seen[p.Category] {
			seen[p.Category] = true
			out = append(out, p.Category)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of products.
func (c *Catalog) Len() int {
	return len(c.products)
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
