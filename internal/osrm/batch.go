package osrm

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Request is one origin/destination pair in a batch window.
type Request struct {
	OriginLon, OriginLat float64
	DestLon, DestLat     float64
}

// Outcome is the per-request result. Exactly one of Route/Err is set.
type Outcome struct {
	Route Route
	Err   error
}

// OK reports whether the request produced a route.
func (o Outcome) OK() bool { return o.Err == nil }

// BatchRoute fires up to maxConcurrent requests in parallel, waits for the
// whole window to settle, and returns outcomes in submission order. A failed
// request never aborts its peers; cancellation propagates to every inflight
// request through ctx.
func (c *Client) BatchRoute(ctx context.Context, reqs []Request, maxConcurrent int) []Outcome {
	outcomes := make([]Outcome, len(reqs))
	if len(reqs) == 0 {
		return outcomes
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	c.log.Debug("routing window", zap.Int("requests", len(reqs)), zap.Int("max_concurrent", maxConcurrent))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, req := range reqs {
		g.Go(func() error {
			route, err := c.Calculate(gctx, req.OriginLon, req.OriginLat, req.DestLon, req.DestLat)
			outcomes[i] = Outcome{Route: route, Err: err}
			// Always nil: per-request failures are recorded, not propagated,
			// so one row cannot cancel the window.
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
