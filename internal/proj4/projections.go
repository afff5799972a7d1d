package proj4

import (
	"fmt"
	"math"
)

// projection converts between geographic radians and projected metres,
// exclusive of false easting/northing (the Transform applies those).
type projection interface {
	forward(lam, phi float64) (x, y float64)
	inverse(x, y float64) (lam, phi float64, err error)
}

const (
	halfPi  = math.Pi / 2
	iterTol = 1e-11
	maxIter = 20
)

func newProjection(d *Def) (projection, error) {
	switch d.Projection {
	case "merc":
		return newMerc(d), nil
	case "tmerc":
		return newTmerc(d), nil
	case "lcc":
		return newLcc(d)
	case "laea":
		return newLaea(d), nil
	}
	return nil, fmt.Errorf("proj4: no projection for %q", d.Projection)
}

// m = cos(phi)/sqrt(1 - es sin^2 phi)
func msfn(sinphi, cosphi, es float64) float64 {
	return cosphi / math.Sqrt(1-es*sinphi*sinphi)
}

// t = tan(pi/4 - phi/2) / ((1 - e sin phi)/(1 + e sin phi))^(e/2)
func tsfn(phi, e float64) float64 {
	sinphi := math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) /
		math.Pow((1-e*sinphi)/(1+e*sinphi), e/2)
}

// phi2 recovers latitude from the isometric parameter t by iteration.
func phi2(ts, e float64) (float64, error) {
	phi := halfPi - 2*math.Atan(ts)
	for i := 0; i < maxIter; i++ {
		sinphi := math.Sin(phi)
		next := halfPi - 2*math.Atan(ts*math.Pow((1-e*sinphi)/(1+e*sinphi), e/2))
		if math.Abs(next-phi) < iterTol {
			return next, nil
		}
		phi = next
	}
	return phi, fmt.Errorf("proj4: phi2 did not converge")
}

// mlfn is the meridional arc length from the equator.
func mlfn(phi float64, e Ellipsoid) float64 {
	es := e.Es
	return e.A * ((1-es/4-3*es*es/64-5*es*es*es/256)*phi -
		(3*es/8+3*es*es/32+45*es*es*es/1024)*math.Sin(2*phi) +
		(15*es*es/256+45*es*es*es/1024)*math.Sin(4*phi) -
		(35*es*es*es/3072)*math.Sin(6*phi))
}

// invMlfn recovers the footpoint latitude from a meridional arc length.
func invMlfn(m float64, e Ellipsoid) float64 {
	es := e.Es
	mu := m / (e.A * (1 - es/4 - 3*es*es/64 - 5*es*es*es/256))
	t := math.Sqrt(1 - es)
	e1 := (1 - t) / (1 + t)
	return mu +
		(3*e1/2-27*e1*e1*e1/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*e1*e1*e1*e1/32)*math.Sin(4*mu) +
		(151*e1*e1*e1/96)*math.Sin(6*mu) +
		(1097*e1*e1*e1*e1/512)*math.Sin(8*mu)
}

// --- Mercator ---

type merc struct {
	ell  Ellipsoid
	lon0 float64
	k0   float64
}

func newMerc(d *Def) *merc {
	k0 := d.K0
	if d.LatTS != 0 {
		sints := math.Sin(d.LatTS)
		k0 = math.Cos(d.LatTS) / math.Sqrt(1-d.Ellipsoid.Es*sints*sints)
	}
	return &merc{ell: d.Ellipsoid, lon0: d.Lon0, k0: k0}
}

func (p *merc) forward(lam, phi float64) (float64, float64) {
	x := p.ell.A * p.k0 * adjlon(lam-p.lon0)
	var y float64
	if p.ell.Spherical() {
		y = p.ell.A * p.k0 * math.Log(math.Tan(math.Pi/4+phi/2))
	} else {
		y = -p.ell.A * p.k0 * math.Log(tsfn(phi, p.ell.E))
	}
	return x, y
}

func (p *merc) inverse(x, y float64) (float64, float64, error) {
	lam := adjlon(p.lon0 + x/(p.ell.A*p.k0))
	if p.ell.Spherical() {
		phi := halfPi - 2*math.Atan(math.Exp(-y/(p.ell.A*p.k0)))
		return lam, phi, nil
	}
	phi, err := phi2(math.Exp(-y/(p.ell.A*p.k0)), p.ell.E)
	return lam, phi, err
}

// --- Transverse Mercator ---

type tmerc struct {
	ell  Ellipsoid
	lat0 float64
	lon0 float64
	k0   float64
	m0   float64
	ep2  float64 // second eccentricity squared
}

func newTmerc(d *Def) *tmerc {
	return &tmerc{
		ell:  d.Ellipsoid,
		lat0: d.Lat0,
		lon0: d.Lon0,
		k0:   d.K0,
		m0:   mlfn(d.Lat0, d.Ellipsoid),
		ep2:  d.Ellipsoid.Es / (1 - d.Ellipsoid.Es),
	}
}

func (p *tmerc) forward(lam, phi float64) (float64, float64) {
	es := p.ell.Es
	sinphi, cosphi := math.Sin(phi), math.Cos(phi)
	t := math.Tan(phi)
	t *= t
	c := p.ep2 * cosphi * cosphi
	a1 := cosphi * adjlon(lam-p.lon0)
	n := p.ell.A / math.Sqrt(1-es*sinphi*sinphi)
	m := mlfn(phi, p.ell)

	x := p.k0 * n * (a1 +
		(1-t+c)*a1*a1*a1/6 +
		(5-18*t+t*t+72*c-58*p.ep2)*math.Pow(a1, 5)/120)
	y := p.k0 * (m - p.m0 + n*math.Tan(phi)*
		(a1*a1/2+
			(5-t+9*c+4*c*c)*math.Pow(a1, 4)/24+
			(61-58*t+t*t+600*c-330*p.ep2)*math.Pow(a1, 6)/720))
	return x, y
}

func (p *tmerc) inverse(x, y float64) (float64, float64, error) {
	es := p.ell.Es
	phi1 := invMlfn(p.m0+y/p.k0, p.ell)
	if math.Abs(phi1) >= halfPi {
		if y >= 0 {
			return p.lon0, halfPi, nil
		}
		return p.lon0, -halfPi, nil
	}
	sin1, cos1 := math.Sin(phi1), math.Cos(phi1)
	t1 := math.Tan(phi1)
	t1sq := t1 * t1
	c1 := p.ep2 * cos1 * cos1
	n1 := p.ell.A / math.Sqrt(1-es*sin1*sin1)
	r1 := p.ell.A * (1 - es) / math.Pow(1-es*sin1*sin1, 1.5)
	d := x / (n1 * p.k0)

	phi := phi1 - (n1*t1/r1)*(d*d/2-
		(5+3*t1sq+10*c1-4*c1*c1-9*p.ep2)*math.Pow(d, 4)/24+
		(61+90*t1sq+298*c1+45*t1sq*t1sq-252*p.ep2-3*c1*c1)*math.Pow(d, 6)/720)
	lam := adjlon(p.lon0 + (d-
		(1+2*t1sq+c1)*d*d*d/6+
		(5-2*c1+28*t1sq-3*c1*c1+8*p.ep2+24*t1sq*t1sq)*math.Pow(d, 5)/120)/cos1)
	return lam, phi, nil
}

// --- Lambert Conformal Conic ---

type lcc struct {
	ell  Ellipsoid
	lon0 float64
	n    float64
	f    float64
	rho0 float64
}

func newLcc(d *Def) (*lcc, error) {
	e := d.Ellipsoid
	lat1 := d.Lat1
	lat2 := lat1
	if d.hasLat2 {
		lat2 = d.Lat2
	}
	m1 := msfn(math.Sin(lat1), math.Cos(lat1), e.Es)
	t1 := tsfn(lat1, e.E)

	var n float64
	if math.Abs(lat1-lat2) < 1e-10 {
		n = math.Sin(lat1)
	} else {
		m2 := msfn(math.Sin(lat2), math.Cos(lat2), e.Es)
		t2 := tsfn(lat2, e.E)
		n = (math.Log(m1) - math.Log(m2)) / (math.Log(t1) - math.Log(t2))
	}
	if n == 0 {
		return nil, fmt.Errorf("proj4: lcc standard parallels yield n=0")
	}
	f := m1 / (n * math.Pow(t1, n))
	t0 := tsfn(d.Lat0, e.E)
	rho0 := 0.0
	if math.Abs(math.Abs(d.Lat0)-halfPi) > 1e-10 {
		rho0 = e.A * f * math.Pow(t0, n)
	}
	return &lcc{ell: e, lon0: d.Lon0, n: n, f: f, rho0: rho0}, nil
}

func (p *lcc) forward(lam, phi float64) (float64, float64) {
	var rho float64
	if math.Abs(math.Abs(phi)-halfPi) > 1e-10 {
		rho = p.ell.A * p.f * math.Pow(tsfn(phi, p.ell.E), p.n)
	}
	theta := p.n * adjlon(lam-p.lon0)
	return rho * math.Sin(theta), p.rho0 - rho*math.Cos(theta)
}

func (p *lcc) inverse(x, y float64) (float64, float64, error) {
	yd := p.rho0 - y
	rho := math.Hypot(x, yd)
	if rho == 0 {
		if p.n > 0 {
			return p.lon0, halfPi, nil
		}
		return p.lon0, -halfPi, nil
	}
	if p.n < 0 {
		rho = -rho
		x, yd = -x, -yd
	}
	theta := math.Atan2(x, yd)
	ts := math.Pow(rho/(p.ell.A*p.f), 1/p.n)
	phi, err := phi2(ts, p.ell.E)
	if err != nil {
		return 0, 0, err
	}
	return adjlon(p.lon0 + theta/p.n), phi, nil
}

// --- Lambert Azimuthal Equal Area (oblique, ellipsoidal) ---

type laea struct {
	ell   Ellipsoid
	lon0  float64
	qp    float64
	beta1 float64
	rq    float64
	dd    float64
	ymf   float64
	xmf   float64
}

func newLaea(d *Def) *laea {
	e := d.Ellipsoid
	qp := qsfn(halfPi, e)
	q0 := qsfn(d.Lat0, e)
	beta1 := math.Asin(clamp(q0/qp, -1, 1))
	rq := e.A * math.Sqrt(qp/2)
	m1 := msfn(math.Sin(d.Lat0), math.Cos(d.Lat0), e.Es)
	dd := e.A * m1 / (rq * math.Cos(beta1))
	return &laea{
		ell: e, lon0: d.Lon0,
		qp: qp, beta1: beta1, rq: rq, dd: dd,
		xmf: rq * dd, ymf: rq / dd,
	}
}

func (p *laea) forward(lam, phi float64) (float64, float64) {
	dlam := adjlon(lam - p.lon0)
	q := qsfn(phi, p.ell)
	beta := math.Asin(clamp(q/p.qp, -1, 1))
	sinb, cosb := math.Sin(beta), math.Cos(beta)
	sinb1, cosb1 := math.Sin(p.beta1), math.Cos(p.beta1)
	b := 1 + sinb1*sinb + cosb1*cosb*math.Cos(dlam)
	b = math.Sqrt(2 / b)
	x := p.xmf * b * cosb * math.Sin(dlam)
	y := p.ymf * b * (cosb1*sinb - sinb1*cosb*math.Cos(dlam))
	return x, y
}

func (p *laea) inverse(x, y float64) (float64, float64, error) {
	xs := x / p.dd
	ys := y * p.dd
	rho := math.Hypot(xs, ys)
	if rho < 1e-10 {
		phi, err := authPhi(p.qp*math.Sin(p.beta1), p.ell)
		return p.lon0, phi, err
	}
	ce := 2 * math.Asin(clamp(rho/(2*p.rq), -1, 1))
	sinCe, cosCe := math.Sin(ce), math.Cos(ce)
	sinb1, cosb1 := math.Sin(p.beta1), math.Cos(p.beta1)

	q := p.qp * (cosCe*sinb1 + ys*sinCe*cosb1/rho)
	lam := p.lon0 + math.Atan2(xs*sinCe, rho*cosb1*cosCe-ys*sinb1*sinCe)
	phi, err := authPhi(q, p.ell)
	if err != nil {
		return 0, 0, err
	}
	return adjlon(lam), phi, nil
}

// qsfn is Snyder's q, the authalic latitude helper.
func qsfn(phi float64, e Ellipsoid) float64 {
	if e.Spherical() {
		return 2 * math.Sin(phi)
	}
	sinphi := math.Sin(phi)
	con := e.E * sinphi
	return (1 - e.Es) * (sinphi/(1-con*con) - (1/(2*e.E))*math.Log((1-con)/(1+con)))
}

// authPhi recovers latitude from q by Newton iteration.
func authPhi(q float64, e Ellipsoid) (float64, error) {
	if e.Spherical() {
		return math.Asin(clamp(q/2, -1, 1)), nil
	}
	phi := math.Asin(clamp(q/2, -1, 1))
	for i := 0; i < maxIter; i++ {
		sinphi := math.Sin(phi)
		con := e.E * sinphi
		div := (1 - e.Es*sinphi*sinphi)
		dphi := div * div / (2 * math.Cos(phi)) *
			(q/(1-e.Es) - sinphi/div + (1/(2*e.E))*math.Log((1-con)/(1+con)))
		phi += dphi
		if math.Abs(dphi) < iterTol {
			return phi, nil
		}
	}
	return phi, fmt.Errorf("proj4: authalic latitude did not converge")
}

// adjlon wraps a longitude into (-pi, pi].
func adjlon(lam float64) float64 {
	for lam > math.Pi {
		lam -= 2 * math.Pi
	}
	for lam < -math.Pi {
		lam += 2 * math.Pi
	}
	return lam
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
