package proj4

import "math"

// Ellipsoid holds the reference ellipsoid constants used by the projection
// formulas. Es is the first eccentricity squared.
type Ellipsoid struct {
	A  float64 // semi-major axis, metres
	B  float64 // semi-minor axis, metres
	Es float64 // e^2
	E  float64 // e
}

func fromARF(a, rf float64) Ellipsoid {
	if rf == 0 {
		return fromAB(a, a)
	}
	f := 1 / rf
	es := 2*f - f*f
	return Ellipsoid{A: a, B: a * (1 - f), Es: es, E: math.Sqrt(es)}
}

func fromAB(a, b float64) Ellipsoid {
	es := 1 - (b*b)/(a*a)
	if es < 1e-12 {
		es = 0
	}
	return Ellipsoid{A: a, B: b, Es: es, E: math.Sqrt(es)}
}

// Spherical reports whether the ellipsoid degenerates to a sphere
// (Pseudo-Mercator's a=b case).
func (e Ellipsoid) Spherical() bool { return e.Es == 0 }

func namedEllipsoid(name string) (Ellipsoid, bool) {
	switch name {
	case "WGS84":
		return fromARF(6378137, 298.257223563), true
	case "GRS80":
		return fromARF(6378137, 298.257222101), true
	case "intl":
		return fromARF(6378388, 297), true
	case "bessel":
		return fromARF(6377397.155, 299.1528128), true
	case "airy":
		return fromARF(6377563.396, 299.3249646), true
	case "clrk66":
		return fromARF(6378206.4, 294.9786982), true
	case "krass":
		return fromARF(6378245, 298.3), true
	case "sphere":
		return fromAB(6370997, 6370997), true
	}
	return Ellipsoid{}, false
}
