// Package catalog loads the immutable company directory.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/ashureev/connectwise-ai/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

//go:embed companies.yaml
var embeddedCompanies []byte

var (
	// ErrDuplicateID is returned when two companies share an id.
	ErrDuplicateID = errors.New("duplicate company id")

	validate = validator.New()
)

// Catalog is an ordered, read-only list of companies. It is safe for
// concurrent use because nothing mutates it after construction.
type Catalog struct {
	companies []*domain.Company
	byID      map[string]*domain.Company
}

type document struct {
	Companies []domain.Company `yaml:"companies"`
}

// Load reads the catalog from path, or from the embedded data set when path
// is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(embeddedCompanies)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(doc.Companies)
}

// New validates companies and builds a catalog preserving their order.
func New(companies []domain.Company) (*Catalog, error) {
	list := make([]*domain.Company, len(companies))
	for i := range companies {
		c := companies[i]
		if err := validate.Struct(&c); err != nil {
			return nil, fmt.Errorf("company %d (%q): %w", i, c.ID, err)
		}
		list[i] = &c
	}

	if dups := lo.FindDuplicatesBy(list, func(c *domain.Company) string { return c.ID }); len(dups) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, dups[0].ID)
	}

	return &Catalog{
		companies: list,
		byID:      lo.KeyBy(list, func(c *domain.Company) string { return c.ID }),
	}, nil
}

// All returns every company in catalog order. The returned slice is a copy;
// the companies it points to are shared and must not be modified.
func (c *Catalog) All() []*domain.Company {
	out := make([]*domain.Company, len(c.companies))
	copy(out, c.companies)
	return out
}

// Get returns the company with the given id.
func (c *Catalog) Get(id string) (*domain.Company, bool) {
	company, ok := c.byID[id]
	return company, ok
}

// First returns the first company in catalog order.
func (c *Catalog) First() (*domain.Company, bool) {
	if len(c.companies) == 0 {
		return nil, false
	}
	return c.companies[0], true
}

// Len returns the number of companies.
func (c *Catalog) Len() int {
	return len(c.companies)
}
