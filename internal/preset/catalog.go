// Package preset bundles curriculum datasets shipped with the service.
//
// Datasets live as YAML under data/ and are embedded at build time. The
// catalog is built once at startup and is read-only afterwards; Load hands out
// the dataset unmodified so sessions stage preset data exactly like CSV data.
package preset

import (
	"embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/curriculum-catalog/internal/domain"
)

//go:embed data/*.yaml
var dataFS embed.FS

// Dataset is one bundled curriculum, shaped identically to CSV ingest output.
type Dataset struct {
	ID       string                 `yaml:"id"`
	Name     string                 `yaml:"name"`
	Version  string                 `yaml:"version"`
	Subjects []domain.StagedSubject `yaml:"subjects"`
}

// Catalog is the registry of bundled datasets keyed by preset id.
type Catalog struct {
	byID map[string]Dataset
}

// NewCatalog parses all embedded datasets into a registry.
func NewCatalog() (*Catalog, error) {
	entries, err := dataFS.ReadDir("data")
	if err != nil {
		return nil, fmt.Errorf("op=preset.readdir: %w", err)
	}
	byID := make(map[string]Dataset, len(entries))
	for _, e := range entries {
		raw, err := dataFS.ReadFile("data/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("op=preset.read %s: %w", e.Name(), err)
		}
		var ds Dataset
		if err := yaml.Unmarshal(raw, &ds); err != nil {
			return nil, fmt.Errorf("op=preset.parse %s: %w", e.Name(), err)
		}
		if ds.ID == "" {
			return nil, fmt.Errorf("op=preset.parse %s: missing id", e.Name())
		}
		if _, dup := byID[ds.ID]; dup {
			return nil, fmt.Errorf("op=preset.parse %s: duplicate id %q", e.Name(), ds.ID)
		}
		byID[ds.ID] = ds
	}
	return &Catalog{byID: byID}, nil
}

// Load returns the dataset registered under id.
func (c *Catalog) Load(id string) (Dataset, error) {
	ds, ok := c.byID[id]
	if !ok {
		return Dataset{}, fmt.Errorf("%w: Unknown preset: %s", domain.ErrNotFound, id)
	}
	return ds, nil
}

// List returns all datasets ordered by id.
func (c *Catalog) List() []Dataset {
	out := make([]Dataset, 0, len(c.byID))
	for _, ds := range c.byID {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
