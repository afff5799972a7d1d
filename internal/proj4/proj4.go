// Package proj4 compiles proj4 definition strings into forward/inverse
// transforms between projected coordinates and WGS84 geographic coordinates.
//
// It implements the projections the CRS catalog ships (longlat, merc,
// tmerc/utm, lcc, laea) plus 3- and 7-parameter Helmert datum shifts. It is
// not a general PROJ replacement.
package proj4

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Def is a parsed proj4 definition.
type Def struct {
	Projection string // +proj value
	Ellipsoid  Ellipsoid
	ToWGS84    []float64 // 0, 3, or 7 Helmert parameters
	DatumWGS84 bool      // +datum=WGS84

	Lat0, Lon0   float64 // radians
	Lat1, Lat2   float64 // radians, lcc standard parallels
	LatTS        float64 // radians, merc
	K0           float64 // scale factor
	X0, Y0       float64 // false easting / northing, metres
	ToMeter      float64 // unit conversion, 1.0 for metres
	Zone         int     // utm
	South        bool    // utm
	hasLat1      bool
	hasLat2      bool
}

// Parse compiles a proj4 string. Unknown parameters are ignored, matching
// PROJ's own tolerance; unsupported projections are an error.
func Parse(s string) (*Def, error) {
	d := &Def{K0: 1, ToMeter: 1}
	var (
		a, b, rf   float64
		hasA, hasB bool
		hasRF      bool
		ellpsName  string
	)

	for _, tok := range strings.Fields(s) {
		tok = strings.TrimPrefix(tok, "+")
		key, val, hasVal := strings.Cut(tok, "=")
		switch key {
		case "proj":
			d.Projection = val
		case "ellps":
			ellpsName = val
		case "datum":
			if val == "WGS84" {
				d.DatumWGS84 = true
				ellpsName = "WGS84"
			} else {
				return nil, fmt.Errorf("proj4: unsupported datum %q", val)
			}
		case "towgs84":
			parts := strings.Split(val, ",")
			if len(parts) != 3 && len(parts) != 7 {
				return nil, fmt.Errorf("proj4: towgs84 wants 3 or 7 parameters, got %d", len(parts))
			}
			for _, p := range parts {
				f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
				if err != nil {
					return nil, fmt.Errorf("proj4: towgs84: %w", err)
				}
				d.ToWGS84 = append(d.ToWGS84, f)
			}
		case "a":
			a, _ = parseFloat(val)
			hasA = true
		case "b":
			b, _ = parseFloat(val)
			hasB = true
		case "rf":
			rf, _ = parseFloat(val)
			hasRF = true
		case "lat_0":
			d.Lat0 = mustRad(val)
		case "lon_0":
			d.Lon0 = mustRad(val)
		case "lat_1":
			d.Lat1, d.hasLat1 = mustRad(val), true
		case "lat_2":
			d.Lat2, d.hasLat2 = mustRad(val), true
		case "lat_ts":
			d.LatTS = mustRad(val)
		case "k", "k_0":
			d.K0, _ = parseFloat(val)
		case "x_0":
			d.X0, _ = parseFloat(val)
		case "y_0":
			d.Y0, _ = parseFloat(val)
		case "zone":
			z, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("proj4: zone: %w", err)
			}
			d.Zone = z
		case "south":
			d.South = true
		case "to_meter":
			d.ToMeter, _ = parseFloat(val)
		case "units":
			if hasVal && val != "m" {
				return nil, fmt.Errorf("proj4: unsupported units %q", val)
			}
		case "no_defs", "wktext", "nadgrids", "type":
			// Ignored.
		default:
			// Unknown parameters are tolerated.
		}
	}

	if d.Projection == "" {
		return nil, fmt.Errorf("proj4: missing +proj")
	}

	// Resolve the ellipsoid: explicit a/b or a/rf beats a named ellipsoid.
	switch {
	case hasA && hasB:
		d.Ellipsoid = fromAB(a, b)
	case hasA && hasRF:
		d.Ellipsoid = fromARF(a, rf)
	case ellpsName != "":
		e, ok := namedEllipsoid(ellpsName)
		if !ok {
			return nil, fmt.Errorf("proj4: unknown ellipsoid %q", ellpsName)
		}
		d.Ellipsoid = e
	case hasA:
		d.Ellipsoid = fromAB(a, a)
	default:
		d.Ellipsoid, _ = namedEllipsoid("WGS84")
	}

	// utm is tmerc with fixed parameters.
	if d.Projection == "utm" {
		if d.Zone < 1 || d.Zone > 60 {
			return nil, fmt.Errorf("proj4: utm zone %d out of range", d.Zone)
		}
		d.Projection = "tmerc"
		d.Lon0 = rad(float64(-183 + 6*d.Zone))
		d.Lat0 = 0
		d.K0 = 0.9996
		d.X0 = 500000
		d.Y0 = 0
		if d.South {
			d.Y0 = 10000000
		}
	}

	switch d.Projection {
	case "longlat", "latlong", "merc", "tmerc", "lcc", "laea":
	default:
		return nil, fmt.Errorf("proj4: unsupported projection %q", d.Projection)
	}
	if d.Projection == "lcc" && !d.hasLat1 {
		return nil, fmt.Errorf("proj4: lcc requires lat_1")
	}
	return d, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func mustRad(s string) float64 {
	f, _ := parseFloat(s)
	return rad(f)
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }
func deg(r float64) float64   { return r * 180 / math.Pi }
