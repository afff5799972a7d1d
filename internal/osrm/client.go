// Package osrm is the client for the external road-network routing daemon.
// One call per origin/destination pair; batching with bounded concurrency is
// provided by BatchRoute.
package osrm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Route is a successful daemon response for one coordinate pair.
type Route struct {
	DistanceMetres  float64
	DurationSeconds float64
	// Line is the full-detail road geometry as ordered (lon, lat) pairs.
	Line [][2]float64
}

// Client issues single route requests against an OSRM-compatible daemon.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	delay   time.Duration
	log     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout (default 30 s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRequestDelay inserts a fixed pre-request delay. Default 0; see the
// OSRM_REQUEST_DELAY configuration note.
func WithRequestDelay(d time.Duration) Option {
	return func(c *Client) { c.delay = d }
}

// WithHTTPClient replaces the underlying transport (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(baseURL string, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		timeout: 30 * time.Second,
		log:     log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// routeResponse is the daemon's documented payload.
type routeResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Type        string       `json:"type"`
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
	Message string `json:"message"`
}

// Calculate requests a single route with full-detail GeoJSON geometry.
// The passed context carries the cancellation signal; cancellation aborts
// inflight I/O and yields ReasonCancelled. No internal retries.
func (c *Client) Calculate(ctx context.Context, oLon, oLat, dLon, dLat float64) (Route, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return Route{}, classifyTransport(ctx, ctx.Err())
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=full&geometries=geojson",
		c.baseURL, oLon, oLat, dLon, dLat)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, &RouteError{Kind: ReasonInvalidRequest, Message: err.Error()}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Route{}, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return Route{}, classifyTransport(ctx, err)
	}

	if resp.StatusCode == http.StatusBadRequest {
		// The daemon rejects out-of-bounds or unparsable coordinates with 400.
		return Route{}, &RouteError{Kind: ReasonInvalidRequest, Message: daemonMessage(body)}
	}
	if resp.StatusCode != http.StatusOK {
		return Route{}, &RouteError{
			Kind:    ReasonNoRoute,
			Message: fmt.Sprintf("daemon status %d: %s", resp.StatusCode, daemonMessage(body)),
		}
	}

	var parsed routeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Route{}, &RouteError{Kind: ReasonMalformedResponse, Message: err.Error()}
	}
	if parsed.Code != "Ok" {
		return Route{}, &RouteError{Kind: ReasonNoRoute, Message: nonEmpty(parsed.Message, parsed.Code)}
	}
	if len(parsed.Routes) == 0 || len(parsed.Routes[0].Geometry.Coordinates) < 2 {
		return Route{}, &RouteError{Kind: ReasonNoRoute, Message: "no route with geometry in response"}
	}

	r := parsed.Routes[0]
	if r.Distance < 0 || r.Duration < 0 {
		return Route{}, &RouteError{Kind: ReasonMalformedResponse, Message: "negative distance or duration"}
	}
	for _, pt := range r.Geometry.Coordinates {
		if pt[0] < -180 || pt[0] > 180 || pt[1] < -90 || pt[1] > 90 {
			return Route{}, &RouteError{Kind: ReasonMalformedResponse, Message: "geometry coordinate out of range"}
		}
	}
	return Route{
		DistanceMetres:  r.Distance,
		DurationSeconds: r.Duration,
		Line:            r.Geometry.Coordinates,
	}, nil
}

func daemonMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		return nonEmpty(parsed.Message, parsed.Code)
	}
	return "daemon rejected request"
}

func nonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
