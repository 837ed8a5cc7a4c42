package sandbox

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"busticket/internal/models"
	"busticket/internal/seats"
)

type catalogFile struct {
	Products []models.Product `yaml:"products"`
}

// Catalog is the set of trips the sandbox sells. TakenSeats of a catalog entry are
// seats sold before the sandbox started.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]models.Product
	layouts  map[string]seats.Layout
}

func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	c := NewCatalog()
	for _, p := range file.Products {
		if err := c.Add(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func NewCatalog() *Catalog {
	return &Catalog{
		products: make(map[string]models.Product),
		layouts:  make(map[string]seats.Layout),
	}
}

func (c *Catalog) Add(p models.Product) error {
	if p.ID == "" {
		return fmt.Errorf("catalog product without id")
	}
	layout, err := seats.ParseLayout(p.Layout, p.Rows)
	if err != nil {
		return fmt.Errorf("catalog product %s: %w", p.ID, err)
	}
	for i, s := range p.TakenSeats {
		p.TakenSeats[i] = seats.Normalize(s)
		if !layout.Contains(p.TakenSeats[i]) {
			return fmt.Errorf("catalog product %s: unknown seat %q", p.ID, s)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
	c.layouts[p.ID] = layout
	return nil
}

func (c *Catalog) Get(id string) (models.Product, seats.Layout, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	return p, c.layouts[id], ok
}

func (c *Catalog) Products() []models.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
