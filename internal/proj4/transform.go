package proj4

import (
	"errors"
	"math"
	"sync"
)

// ErrOutOfRange marks a transform whose result leaves the WGS84 envelope or
// is not finite. Callers treat it as a row-level failure.
var ErrOutOfRange = errors.New("proj4: result outside WGS84 range")

var wgs84Ellipsoid, _ = namedEllipsoid("WGS84")

// Transform is a compiled proj4 definition ready for repeated use.
// Safe for concurrent use: all state is immutable after compilation.
type Transform struct {
	def       *Def
	proj      projection // nil for longlat
	needShift bool
}

// Compile parses and prepares a proj4 definition string.
func Compile(proj4 string) (*Transform, error) {
	d, err := Parse(proj4)
	if err != nil {
		return nil, err
	}
	t := &Transform{def: d}
	if d.Projection != "longlat" && d.Projection != "latlong" {
		if t.proj, err = newProjection(d); err != nil {
			return nil, err
		}
	}
	// A shift is needed when the source datum is not already WGS84.
	t.needShift = !d.DatumWGS84 && len(d.ToWGS84) > 0 && !identityShift(d.ToWGS84)
	return t, nil
}

// ToWGS84 converts one coordinate from the compiled reference system to WGS84
// geographic degrees. Inputs for longlat systems are degrees; projected
// systems take metres (after to_meter scaling).
func (t *Transform) ToWGS84(x, y float64) (lon, lat float64, err error) {
	if !isFinite(x) || !isFinite(y) {
		return 0, 0, ErrOutOfRange
	}

	// Geographic source with no datum shift: degrees pass through untouched,
	// keeping envelope boundary values exact.
	if t.proj == nil && !t.needShift {
		if x < -180 || x > 180 || y < -90 || y > 90 {
			return 0, 0, ErrOutOfRange
		}
		return x, y, nil
	}

	var lam, phi float64
	if t.proj == nil {
		lam, phi = rad(x), rad(y)
	} else {
		px := (x - t.def.X0) * t.def.ToMeter
		py := (y - t.def.Y0) * t.def.ToMeter
		lam, phi, err = t.proj.inverse(px, py)
		if err != nil {
			return 0, 0, err
		}
	}

	if t.needShift {
		gx, gy, gz := geodeticToGeocentric(lam, phi, t.def.Ellipsoid)
		gx, gy, gz = helmertToWGS84(gx, gy, gz, t.def.ToWGS84)
		lam, phi = geocentricToGeodetic(gx, gy, gz, wgs84Ellipsoid)
	}

	lon, lat = deg(lam), deg(phi)
	if !isFinite(lon) || !isFinite(lat) || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return 0, 0, ErrOutOfRange
	}
	return lon, lat, nil
}

// FromWGS84 is the forward direction, used by tests to round-trip.
func (t *Transform) FromWGS84(lon, lat float64) (x, y float64, err error) {
	lam, phi := rad(lon), rad(lat)
	if t.needShift {
		// Inverse Helmert via Newton-free approximation: apply the negated
		// parameters. Sub-millimetre for the magnitudes in the catalog.
		gx, gy, gz := geodeticToGeocentric(lam, phi, wgs84Ellipsoid)
		gx, gy, gz = helmertToWGS84(gx, gy, gz, negate(t.def.ToWGS84))
		lam, phi = geocentricToGeodetic(gx, gy, gz, t.def.Ellipsoid)
	}
	if t.proj == nil {
		return deg(lam), deg(phi), nil
	}
	px, py := t.proj.forward(lam, phi)
	return px/t.def.ToMeter + t.def.X0, py/t.def.ToMeter + t.def.Y0, nil
}

func negate(p []float64) []float64 {
	out := make([]float64, len(p))
	for i, v := range p {
		out[i] = -v
	}
	return out
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Cache amortises Compile across rows; keyed by the CRS code.
type Cache struct {
	mu sync.Mutex
	m  map[string]*Transform
}

func NewCache() *Cache {
	return &Cache{m: make(map[string]*Transform)}
}

// Get returns the compiled transform for code, compiling def on first use.
func (c *Cache) Get(code, def string) (*Transform, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.m[code]; ok {
		return t, nil
	}
	t, err := Compile(def)
	if err != nil {
		return nil, err
	}
	c.m[code] = t
	return t, nil
}
