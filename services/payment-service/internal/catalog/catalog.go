package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/grigta/hotspot/services/payment-service/internal/models"
)

var ErrUnknownPackage = errors.New("unknown package")

type file struct {
	Packages []models.Package `yaml:"packages"`
}

// Catalog is the read-only list of access packages offered at the portal.
type Catalog struct {
	packages []models.Package
	byID     map[string]models.Package
}

// Default mirrors configs/packages.yaml so the service can start without it.
func Default() *Catalog {
	c, _ := New([]models.Package{
		{ID: "1h", Label: "1 Hour", Hours: 1, Amount: 10},
		{ID: "2h", Label: "2 Hours", Hours: 2, Amount: 50},
		{ID: "24h", Label: "24 Hours", Hours: 24, Amount: 80},
		{ID: "7d", Label: "7 Days", Hours: 168, Amount: 300},
	})
	return c
}

func New(packages []models.Package) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]models.Package, len(packages))}
	for _, p := range packages {
		if p.ID == "" {
			return nil, fmt.Errorf("package %q: id is required", p.Label)
		}
		if p.Hours <= 0 || p.Amount <= 0 {
			return nil, fmt.Errorf("package %s: hours and amount must be positive", p.ID)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("package %s: duplicate id", p.ID)
		}
		c.byID[p.ID] = p
		c.packages = append(c.packages, p)
	}

	sort.SliceStable(c.packages, func(i, j int) bool {
		return c.packages[i].Hours < c.packages[j].Hours
	})
	return c, nil
}

// Load reads path, falling back to Default when the file does not exist.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read packages: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse packages: %w", err)
	}
	if len(f.Packages) == 0 {
		return nil, fmt.Errorf("no packages defined in %s", path)
	}

	return New(f.Packages)
}

func (c *Catalog) List() []models.Package {
	return append([]models.Package(nil), c.packages...)
}

func (c *Catalog) Get(id string) (models.Package, error) {
	p, ok := c.byID[id]
	if !ok {
		return models.Package{}, fmt.Errorf("%w: %s", ErrUnknownPackage, id)
	}
	return p, nil
}
