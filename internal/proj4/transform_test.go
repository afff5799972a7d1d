package proj4

import (
	"math"
	"testing"
)

const (
	wgs84LongLat = "+proj=longlat +datum=WGS84 +no_defs"
	webMercator  = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +no_defs"
	utm32        = "+proj=utm +zone=32 +datum=WGS84 +units=m +no_defs"
	lambert93    = "+proj=lcc +lat_1=49 +lat_2=44 +lat_0=46.5 +lon_0=3 +x_0=700000 +y_0=6600000 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs"
	laeaEurope   = "+proj=laea +lat_0=52 +lon_0=10 +x_0=4321000 +y_0=3210000 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs"
	osgb36       = "+proj=tmerc +lat_0=49 +lon_0=-2 +k=0.9996012717 +x_0=400000 +y_0=-100000 +ellps=airy +towgs84=446.448,-125.157,542.06,0.15,0.247,0.842,-20.489 +units=m +no_defs"
)

func compile(t *testing.T, def string) *Transform {
	t.Helper()
	tr, err := Compile(def)
	if err != nil {
		t.Fatalf("Compile(%q): %v", def, err)
	}
	return tr
}

func TestLongLatIdentity(t *testing.T) {
	tr := compile(t, wgs84LongLat)
	lon, lat, err := tr.ToWGS84(2.35, 48.85)
	if err != nil {
		t.Fatalf("ToWGS84: %v", err)
	}
	if math.Abs(lon-2.35) > 1e-12 || math.Abs(lat-48.85) > 1e-12 {
		t.Fatalf("identity transform moved the point: %f, %f", lon, lat)
	}
}

func TestLongLatRangeLimits(t *testing.T) {
	tr := compile(t, wgs84LongLat)
	// Exactly on the envelope is accepted.
	if _, _, err := tr.ToWGS84(180, 90); err != nil {
		t.Fatalf("boundary coordinate rejected: %v", err)
	}
	if _, _, err := tr.ToWGS84(-180, -90); err != nil {
		t.Fatalf("boundary coordinate rejected: %v", err)
	}
	// Strictly outside fails.
	if _, _, err := tr.ToWGS84(0, 90.0001); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if _, _, err := tr.ToWGS84(math.NaN(), 0); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange for NaN, got %v", err)
	}
}

func TestProjectionOrigins(t *testing.T) {
	cases := []struct {
		name     string
		def      string
		lon, lat float64
		x, y     float64
	}{
		{"utm32 equator on central meridian", utm32, 9, 0, 500000, 0},
		{"lambert93 grid origin", lambert93, 3, 46.5, 700000, 6600000},
		{"laea europe grid origin", laeaEurope, 10, 52, 4321000, 3210000},
	}
	for _, tc := range cases {
		tr := compile(t, tc.def)
		x, y, err := tr.FromWGS84(tc.lon, tc.lat)
		if err != nil {
			t.Fatalf("%s: forward: %v", tc.name, err)
		}
		if math.Abs(x-tc.x) > 0.01 || math.Abs(y-tc.y) > 0.01 {
			t.Fatalf("%s: got (%.3f, %.3f), want (%.1f, %.1f)", tc.name, x, y, tc.x, tc.y)
		}
	}
}

func TestWebMercatorKnownValue(t *testing.T) {
	tr := compile(t, webMercator)
	// Spherical Mercator easting is linear in longitude.
	x, _, err := tr.FromWGS84(2.35, 48.85)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	want := 2.35 * 20037508.342789244 / 180
	if math.Abs(x-want) > 0.01 {
		t.Fatalf("easting: got %.3f, want %.3f", x, want)
	}
}

func TestRoundTrips(t *testing.T) {
	points := [][2]float64{
		{2.35, 48.85},  // Paris
		{4.83, 45.76},  // Lyon
		{9.99, 53.55},  // Hamburg
		{-0.13, 51.51}, // London
	}
	defs := []string{webMercator, utm32, lambert93, laeaEurope, osgb36}
	for _, def := range defs {
		tr := compile(t, def)
		for _, p := range points {
			x, y, err := tr.FromWGS84(p[0], p[1])
			if err != nil {
				t.Fatalf("%s forward(%v): %v", def, p, err)
			}
			lon, lat, err := tr.ToWGS84(x, y)
			if err != nil {
				t.Fatalf("%s inverse(%v): %v", def, p, err)
			}
			// 1e-6 degrees is roughly 10 cm.
			if math.Abs(lon-p[0]) > 1e-6 || math.Abs(lat-p[1]) > 1e-6 {
				t.Fatalf("%s round-trip drifted: in %v out (%f, %f)", def, p, lon, lat)
			}
		}
	}
}

func TestDatumShiftApplied(t *testing.T) {
	// OSGB36 carries a non-trivial towgs84; the inverse of a grid coordinate
	// must differ from what a shift-free transform would give.
	withShift := compile(t, osgb36)
	noShift := compile(t, "+proj=tmerc +lat_0=49 +lon_0=-2 +k=0.9996012717 +x_0=400000 +y_0=-100000 +ellps=airy +units=m +no_defs")

	lon1, lat1, err := withShift.ToWGS84(400000, 300000)
	if err != nil {
		t.Fatalf("ToWGS84: %v", err)
	}
	lon2, lat2, err := noShift.ToWGS84(400000, 300000)
	if err != nil {
		t.Fatalf("ToWGS84: %v", err)
	}
	if math.Abs(lon1-lon2) < 1e-6 && math.Abs(lat1-lat2) < 1e-6 {
		t.Fatal("towgs84 shift had no effect")
	}
	// The shift magnitude is on the order of 100 m, i.e. well under a degree.
	if math.Abs(lon1-lon2) > 0.01 || math.Abs(lat1-lat2) > 0.01 {
		t.Fatalf("shift implausibly large: d=(%g, %g)", lon1-lon2, lat1-lat2)
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"",
		"+ellps=GRS80",
		"+proj=somerc +lat_0=46.95",
		"+proj=utm +zone=0 +datum=WGS84",
		"+proj=longlat +datum=NAD27",
		"+proj=tmerc +lat_0=0 +lon_0=9 +towgs84=1,2",
	}
	for _, def := range bad {
		if _, err := Compile(def); err == nil {
			t.Fatalf("Compile(%q): expected error", def)
		}
	}
}

func TestCache(t *testing.T) {
	c := NewCache()
	t1, err := c.Get("EPSG:4326", wgs84LongLat)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	t2, err := c.Get("EPSG:4326", wgs84LongLat)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if t1 != t2 {
		t.Fatal("cache did not reuse the compiled transform")
	}
	if _, err := c.Get("BAD", "+proj=nope"); err == nil {
		t.Fatal("expected compile error through cache")
	}
}
