// Package crs holds the coordinate reference system catalog: a static set of
// descriptors mapping an identifier like "EPSG:25832" to its proj4 definition.
package crs

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Descriptor is one coordinate reference system. Immutable after load.
type Descriptor struct {
	Code   string `yaml:"code" json:"code"`
	Name   string `yaml:"name" json:"name"`
	Region string `yaml:"region" json:"region"`
	Datum  string `yaml:"datum" json:"datum"`
	Proj4  string `yaml:"proj4" json:"proj4"`
}

// Catalog is the process-wide CRS lookup, loaded once at startup.
type Catalog struct {
	byCode map[string]Descriptor
	order  []string
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return loadFrom(catalogYAML)
}

func loadFrom(b []byte) (*Catalog, error) {
	var file struct {
		Systems []Descriptor `yaml:"systems"`
	}
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("crs: parse catalog: %w", err)
	}
	c := &Catalog{byCode: make(map[string]Descriptor, len(file.Systems))}
	for _, d := range file.Systems {
		code := strings.ToUpper(strings.TrimSpace(d.Code))
		if code == "" || d.Proj4 == "" {
			return nil, fmt.Errorf("crs: catalog entry missing code or proj4: %+v", d)
		}
		if _, dup := c.byCode[code]; dup {
			return nil, fmt.Errorf("crs: duplicate catalog code %s", code)
		}
		d.Code = code
		c.byCode[code] = d
		c.order = append(c.order, code)
	}
	sort.Strings(c.order)
	return c, nil
}

// Get returns the descriptor for a code ("EPSG:4326", case-insensitive).
func (c *Catalog) Get(code string) (Descriptor, bool) {
	d, ok := c.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return d, ok
}

// List returns descriptors filtered by region (exact, case-insensitive) and a
// free-text search over code and name. Empty filters match everything.
// The result is ordered by code for stable API output.
func (c *Catalog) List(region, search string) []Descriptor {
	region = strings.ToLower(strings.TrimSpace(region))
	search = strings.ToLower(strings.TrimSpace(search))

	out := make([]Descriptor, 0, len(c.order))
	for _, code := range c.order {
		d := c.byCode[code]
		if region != "" && strings.ToLower(d.Region) != region {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(d.Code), search) &&
			!strings.Contains(strings.ToLower(d.Name), search) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Len reports the number of catalog entries.
func (c *Catalog) Len() int { return len(c.byCode) }
