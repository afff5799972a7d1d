package osrm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func okBody(distance, duration float64, coords string) string {
	return fmt.Sprintf(`{"code":"Ok","routes":[{"distance":%f,"duration":%f,"geometry":{"type":"LineString","coordinates":[%s]}}]}`,
		distance, duration, coords)
}

func TestCalculate_Success(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, okBody(1234.5, 120.5, "[2.35,48.85],[2.30,48.86],[2.29,48.87]"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	route, err := c.Calculate(context.Background(), 2.35, 48.85, 2.29, 48.87)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if route.DistanceMetres != 1234.5 || route.DurationSeconds != 120.5 {
		t.Fatalf("unexpected distance/duration: %v", route)
	}
	if len(route.Line) != 3 {
		t.Fatalf("expected 3 line points, got %d", len(route.Line))
	}
	if gotPath != "/route/v1/driving/2.350000,48.850000;2.290000,48.870000" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotQuery != "overview=full&geometries=geojson" {
		t.Fatalf("unexpected query: %s", gotQuery)
	}
}

func TestCalculate_NoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"NoRoute","message":"Impossible route between points"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	_, err := c.Calculate(context.Background(), 0, 0, 1, 1)
	if ReasonOf(err) != ReasonNoRoute {
		t.Fatalf("expected no_route, got %v", err)
	}
}

func TestCalculate_InvalidRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":"InvalidQuery","message":"Query string malformed"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	_, err := c.Calculate(context.Background(), 999, 999, 1, 1)
	if ReasonOf(err) != ReasonInvalidRequest {
		t.Fatalf("expected invalid_request, got %v", err)
	}
}

func TestCalculate_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := NewClient(srv.URL, zap.NewNop())
	_, err := c.Calculate(context.Background(), 0, 0, 1, 1)
	if ReasonOf(err) != ReasonUnreachable {
		t.Fatalf("expected unreachable, got %v", err)
	}
}

func TestCalculate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop(), WithTimeout(20*time.Millisecond))
	_, err := c.Calculate(context.Background(), 0, 0, 1, 1)
	if ReasonOf(err) != ReasonTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestCalculate_Cancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(srv.URL, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := c.Calculate(ctx, 0, 0, 1, 1)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-done
	if ReasonOf(err) != ReasonCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestCalculate_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"Ok","routes":[`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	_, err := c.Calculate(context.Background(), 0, 0, 1, 1)
	if ReasonOf(err) != ReasonMalformedResponse {
		t.Fatalf("expected malformed_response, got %v", err)
	}
}

func TestCalculate_EmptyGeometry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"Ok","routes":[{"distance":1,"duration":1,"geometry":{"type":"LineString","coordinates":[[1,1]]}}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	_, err := c.Calculate(context.Background(), 0, 0, 1, 1)
	if ReasonOf(err) != ReasonNoRoute {
		t.Fatalf("single-point geometry should be no_route, got %v", err)
	}
}

func TestBatchRoute_OrderAndIsolation(t *testing.T) {
	// Respond with the origin longitude as the distance so outcomes are
	// distinguishable; fail every third request.
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		var oLon, oLat, dLon, dLat float64
		fmt.Sscanf(r.URL.Path, "/route/v1/driving/%f,%f;%f,%f", &oLon, &oLat, &dLon, &dLat)
		if int(oLon)%3 == 2 {
			fmt.Fprint(w, `{"code":"NoRoute"}`)
			return
		}
		fmt.Fprint(w, okBody(oLon, 10, "[0,0],[1,1]"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	reqs := make([]Request, 9)
	for i := range reqs {
		reqs[i] = Request{OriginLon: float64(i), OriginLat: 0.5, DestLon: 1, DestLat: 1}
	}

	outcomes := c.BatchRoute(context.Background(), reqs, 4)
	if len(outcomes) != 9 {
		t.Fatalf("expected 9 outcomes, got %d", len(outcomes))
	}
	for i, o := range outcomes {
		if i%3 == 2 {
			if o.OK() {
				t.Fatalf("request %d should have failed", i)
			}
			if ReasonOf(o.Err) != ReasonNoRoute {
				t.Fatalf("request %d: expected no_route, got %v", i, o.Err)
			}
			continue
		}
		if !o.OK() {
			t.Fatalf("request %d failed: %v", i, o.Err)
		}
		if o.Route.DistanceMetres != float64(i) {
			t.Fatalf("outcome %d out of submission order: distance %f", i, o.Route.DistanceMetres)
		}
	}
	if atomic.LoadInt64(&calls) != 9 {
		t.Fatalf("expected 9 daemon calls, got %d", calls)
	}
}

func TestBatchRoute_BoundedConcurrency(t *testing.T) {
	var mu sync.Mutex
	inflight, peak := 0, 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inflight++
		if inflight > peak {
			peak = inflight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inflight--
		mu.Unlock()
		fmt.Fprint(w, okBody(1, 1, "[0,0],[1,1]"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	reqs := make([]Request, 20)
	c.BatchRoute(context.Background(), reqs, 5)

	mu.Lock()
	defer mu.Unlock()
	if peak > 5 {
		t.Fatalf("concurrency bound exceeded: peak %d", peak)
	}
	if peak == 0 {
		t.Fatal("no requests observed")
	}
}

func TestBatchRoute_Empty(t *testing.T) {
	c := NewClient("http://localhost:1", zap.NewNop())
	if got := c.BatchRoute(context.Background(), nil, 5); len(got) != 0 {
		t.Fatalf("expected empty outcomes, got %d", len(got))
	}
}
