package results

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb/geojson"
)

// ReadCollection materialises a written feature collection. Used by the
// results endpoint for completed jobs; the streamed file on disk stays the
// source of truth.
func ReadCollection(path string) (*geojson.FeatureCollection, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("results: read %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("results: parse %s: %w", path, err)
	}
	return fc, nil
}

// ReadMetadata loads the sibling metadata document.
func ReadMetadata(path string) (Metadata, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("results: read %s: %w", path, err)
	}
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return Metadata{}, fmt.Errorf("results: parse %s: %w", path, err)
	}
	return m, nil
}
