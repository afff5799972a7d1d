// Package geometry reduces routed polylines according to the job's geometry
// policy before they are written to the result collection.
package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
)

// Policy mirrors the geometry section of a routing configuration.
// StraightLine wins when both StraightLine and Simplify are set.
type Policy struct {
	ExportGeometry    bool    `json:"exportGeometry"`
	StraightLine      bool    `json:"straightLine"`
	Simplify          bool    `json:"simplify"`
	SimplifyTolerance float64 `json:"simplifyTolerance,omitempty"`
}

// Apply transforms a routed line under the policy. The input is never
// mutated; vertex order is preserved.
func Apply(line orb.LineString, p Policy) orb.LineString {
	switch {
	case !p.ExportGeometry:
		return nil
	case p.StraightLine:
		return straighten(line)
	case p.Simplify && p.SimplifyTolerance > 0:
		return douglasPeucker(line, p.SimplifyTolerance)
	default:
		return clone(line)
	}
}

// straighten keeps only the endpoints. Lines with fewer than two vertices
// pass through unchanged.
func straighten(line orb.LineString) orb.LineString {
	if len(line) < 2 {
		return clone(line)
	}
	return orb.LineString{line[0], line[len(line)-1]}
}

// douglasPeucker simplifies with a perpendicular-distance threshold in
// degrees, preserving the first and last vertex. Lines with fewer than three
// vertices are returned unchanged.
func douglasPeucker(line orb.LineString, tolerance float64) orb.LineString {
	if len(line) < 3 {
		return clone(line)
	}
	return simplify.DouglasPeucker(tolerance).LineString(clone(line))
}

func clone(line orb.LineString) orb.LineString {
	if line == nil {
		return nil
	}
	out := make(orb.LineString, len(line))
	copy(out, line)
	return out
}

// FromPairs converts the routing client's (lon, lat) pairs to an orb line.
func FromPairs(pairs [][2]float64) orb.LineString {
	out := make(orb.LineString, len(pairs))
	for i, p := range pairs {
		out[i] = orb.Point{p[0], p[1]}
	}
	return out
}
