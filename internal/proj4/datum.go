package proj4

import "math"

const (
	secToRad = math.Pi / (180 * 3600)
	ppm      = 1e-6
)

// geodeticToGeocentric converts geographic radians (height 0) to earth-centred
// cartesian coordinates on the given ellipsoid.
func geodeticToGeocentric(lam, phi float64, e Ellipsoid) (x, y, z float64) {
	sinphi, cosphi := math.Sin(phi), math.Cos(phi)
	n := e.A / math.Sqrt(1-e.Es*sinphi*sinphi)
	x = n * cosphi * math.Cos(lam)
	y = n * cosphi * math.Sin(lam)
	z = n * (1 - e.Es) * sinphi
	return x, y, z
}

// geocentricToGeodetic converts cartesian coordinates back to geographic
// radians by fixed-point iteration on the latitude.
func geocentricToGeodetic(x, y, z float64, e Ellipsoid) (lam, phi float64) {
	lam = math.Atan2(y, x)
	p := math.Hypot(x, y)
	if p == 0 {
		if z >= 0 {
			return lam, halfPi
		}
		return lam, -halfPi
	}
	phi = math.Atan2(z, p*(1-e.Es))
	for i := 0; i < maxIter; i++ {
		sinphi := math.Sin(phi)
		n := e.A / math.Sqrt(1-e.Es*sinphi*sinphi)
		next := math.Atan2(z+e.Es*n*sinphi, p)
		if math.Abs(next-phi) < iterTol {
			return lam, next
		}
		phi = next
	}
	return lam, phi
}

// helmertToWGS84 applies a 3- or 7-parameter towgs84 shift (position vector
// rotation convention, matching PROJ).
func helmertToWGS84(x, y, z float64, p []float64) (float64, float64, float64) {
	switch len(p) {
	case 3:
		return x + p[0], y + p[1], z + p[2]
	case 7:
		dx, dy, dz := p[0], p[1], p[2]
		rx, ry, rz := p[3]*secToRad, p[4]*secToRad, p[5]*secToRad
		s := 1 + p[6]*ppm
		return dx + s*(x-rz*y+ry*z),
			dy + s*(rz*x+y-rx*z),
			dz + s*(-ry*x+rx*y+z)
	}
	return x, y, z
}

// identityShift reports whether the towgs84 parameters are all zero.
func identityShift(p []float64) bool {
	for _, v := range p {
		if v != 0 {
			return false
		}
	}
	return true
}
