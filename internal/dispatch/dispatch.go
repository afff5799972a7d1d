// Package dispatch drives one routing job from row iteration to terminal
// state: decode windows of rows, transform coordinates, fan out bounded
// route requests, post-process geometries, and stream features to disk.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danshapiro/routeforge/internal/crs"
	"github.com/danshapiro/routeforge/internal/geometry"
	"github.com/danshapiro/routeforge/internal/jobs"
	"github.com/danshapiro/routeforge/internal/osrm"
	"github.com/danshapiro/routeforge/internal/proj4"
	"github.com/danshapiro/routeforge/internal/results"
	"github.com/danshapiro/routeforge/internal/upload"
)

// Options bound the dispatcher's windows. BatchSize is the number of rows
// decoded as one unit; MaxConcurrent is the number of route requests in
// flight at once within a window, MaxConcurrent <= BatchSize.
type Options struct {
	ResultsDir    string
	BatchSize     int
	MaxConcurrent int
}

// Dispatcher runs jobs against a fixed set of collaborators. One instance
// serves the whole process; each Run owns its job exclusively.
type Dispatcher struct {
	opts       Options
	client     *osrm.Client
	uploads    *upload.Store
	catalog    *crs.Catalog
	transforms *proj4.Cache
	bc         *jobs.Broadcaster
	log        *zap.Logger
}

// New creates a dispatcher.
func New(opts Options, client *osrm.Client, uploads *upload.Store, catalog *crs.Catalog, bc *jobs.Broadcaster, log *zap.Logger) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxConcurrent <= 0 || opts.MaxConcurrent > opts.BatchSize {
		opts.MaxConcurrent = opts.BatchSize
	}
	return &Dispatcher{
		opts:       opts,
		client:     client,
		uploads:    uploads,
		catalog:    catalog,
		transforms: proj4.NewCache(),
		bc:         bc,
		log:        log,
	}
}

// pending is one row that survived decoding and transformation and awaits a
// route request. Slice position matches the request slice position.
type pending struct {
	rowIndex int
	fields   map[string]string
}

// Run drives the job to a terminal state. Never returns an error: every
// failure mode ends in a terminal job status and one final broadcast.
func (d *Dispatcher) Run(job *jobs.Job) {
	ctx := job.Context()
	log := d.log.With(zap.String("job_id", job.ID))

	// Cancellation delivered before processing still fails the job.
	if ctx.Err() != nil {
		d.fail(job, nil, terminalMessage(ctx))
		return
	}
	job.SetProcessing()

	desc, err := d.uploads.Get(job.Config.FileID)
	if err != nil {
		d.fail(job, nil, fmt.Sprintf("upload %s: %v", job.Config.FileID, err))
		return
	}
	ref, ok := d.catalog.Get(job.Config.CRSCode)
	if !ok {
		d.fail(job, nil, fmt.Sprintf("unknown reference system %q", job.Config.CRSCode))
		return
	}
	tr, err := d.transforms.Get(ref.Code, ref.Proj4)
	if err != nil {
		// A compile error would fail every row identically; abort instead.
		d.fail(job, nil, fmt.Sprintf("reference system %s: %v", ref.Code, err))
		return
	}

	it, err := d.uploads.OpenIterator(desc)
	if err != nil {
		d.fail(job, nil, fmt.Sprintf("open upload: %v", err))
		return
	}
	defer it.Close()

	w, err := results.NewWriter(d.opts.ResultsDir, job.ID)
	if err != nil {
		d.fail(job, nil, err.Error())
		return
	}

	log.Info("job started",
		zap.String("file_id", desc.FileID),
		zap.String("crs", ref.Code),
		zap.Int("rows", desc.RowCount))

	var summary results.Summary
	summary.TotalRows = desc.RowCount

	for {
		batch, more := d.decodeWindow(ctx, job, it, desc, tr)
		if err := ctx.Err(); err != nil {
			d.fail(job, w, terminalMessage(ctx))
			return
		}
		if itErr := it.Err(); itErr != nil {
			d.fail(job, w, fmt.Sprintf("read upload: %v", itErr))
			return
		}

		if err := d.routeWindow(ctx, job, w, batch, &summary); err != nil {
			if ctx.Err() != nil {
				d.fail(job, w, terminalMessage(ctx))
			} else {
				d.fail(job, w, err.Error())
			}
			return
		}

		d.publishProgress(job)
		if !more {
			break
		}
	}

	final := job.ProgressNow()
	summary.Successful = final.Successful
	summary.Failed = final.Failed

	startedAt, _ := job.Timing()
	completedAt := time.Now().UTC()
	timing := results.Timing{
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		DurationMS:  completedAt.Sub(startedAt).Milliseconds(),
	}
	if err := w.Close(summary, timing, job.Config); err != nil {
		d.fail(job, nil, err.Error())
		return
	}
	job.SetPaths(w.Path(), w.MetaPath())
	job.Finish(jobs.StatusCompleted, "")

	p := job.ProgressNow()
	d.bc.Publish(job.ID, jobs.Event{
		JobID:    job.ID,
		Kind:     jobs.EventCompleted,
		Status:   jobs.StatusCompleted,
		Progress: &p,
	})
	log.Info("job completed",
		zap.Int("successful", p.Successful),
		zap.Int("failed", p.Failed),
		zap.Int64("duration_ms", timing.DurationMS))
}

// decodeWindow pulls up to BatchSize rows, failing malformed, unparsable and
// untransformable ones immediately, and returns the rows that need routing.
// The second return is false once the iterator is exhausted. The cancellation
// signal is sampled between every row decode.
func (d *Dispatcher) decodeWindow(ctx context.Context, job *jobs.Job, it *upload.Iterator, desc upload.Descriptor, tr *proj4.Transform) ([]window, bool) {
	var out []window
	for len(out) < d.opts.BatchSize {
		if ctx.Err() != nil {
			return out, false
		}
		row, ok := it.Next()
		if !ok {
			return out, false
		}
		if row.Err != nil {
			d.failRow(job, row.Index, fmt.Sprintf("malformed row: %v", row.Err))
			continue
		}
		req, err := d.buildRequest(job.Config, desc, tr, row)
		if err != nil {
			d.failRow(job, row.Index, err.Error())
			continue
		}
		out = append(out, window{row: pending{rowIndex: row.Index, fields: row.Fields}, req: req})
	}
	return out, true
}

// window pairs one surviving row with its routing request.
type window struct {
	row pending
	req osrm.Request
}

// buildRequest parses the four coordinate fields and transforms both points
// to WGS84. Any failure is a row-level failure.
func (d *Dispatcher) buildRequest(cfg jobs.Configuration, desc upload.Descriptor, tr *proj4.Transform, row upload.Row) (osrm.Request, error) {
	coords := [4]struct {
		column string
		label  string
	}{
		{cfg.OriginFields.X, "origin x"},
		{cfg.OriginFields.Y, "origin y"},
		{cfg.DestinationFields.X, "destination x"},
		{cfg.DestinationFields.Y, "destination y"},
	}
	var vals [4]float64
	for i, c := range coords {
		raw, ok := row.Fields[c.column]
		if !ok {
			return osrm.Request{}, fmt.Errorf("%s: column %q missing", c.label, c.column)
		}
		v, err := upload.ParseCoordinate(raw, desc.DecimalMark)
		if err != nil {
			return osrm.Request{}, fmt.Errorf("%s: %v", c.label, err)
		}
		vals[i] = v
	}

	oLon, oLat, err := tr.ToWGS84(vals[0], vals[1])
	if err != nil {
		return osrm.Request{}, fmt.Errorf("origin: %v", err)
	}
	dLon, dLat, err := tr.ToWGS84(vals[2], vals[3])
	if err != nil {
		return osrm.Request{}, fmt.Errorf("destination: %v", err)
	}
	return osrm.Request{OriginLon: oLon, OriginLat: oLat, DestLon: dLon, DestLat: dLat}, nil
}

// routeWindow fires the window's requests with bounded concurrency and
// applies the outcomes in submission order, so features land in ascending
// row order. Row failures are recorded and skipped; a sink write failure is
// fatal and returned.
func (d *Dispatcher) routeWindow(ctx context.Context, job *jobs.Job, w *results.Writer, rows []window, summary *results.Summary) error {
	if len(rows) == 0 {
		return nil
	}
	reqs := make([]osrm.Request, len(rows))
	for i, r := range rows {
		reqs[i] = r.req
	}
	outcomes := d.client.BatchRoute(ctx, reqs, d.opts.MaxConcurrent)

	for i, out := range outcomes {
		row := rows[i].row
		if !out.OK() {
			d.failRow(job, row.rowIndex, string(osrm.ReasonOf(out.Err)))
			continue
		}
		line := geometry.Apply(geometry.FromPairs(out.Route.Line), job.Config.Geometry)
		if err := w.WriteFeature(row.rowIndex, row.fields, out.Route.DistanceMetres, out.Route.DurationSeconds, line); err != nil {
			return fmt.Errorf("write feature: %w", err)
		}
		summary.TotalDistanceMetres += out.Route.DistanceMetres
		summary.TotalDurationSeconds += out.Route.DurationSeconds
		job.AdvanceRow(true)
	}
	return nil
}

// failRow records one row-level failure. Never aborts the job.
func (d *Dispatcher) failRow(job *jobs.Job, rowIndex int, reason string) {
	job.RecordFailure(rowIndex, reason)
	job.AdvanceRow(false)
}

// fail transitions the job to failed, discards any partial output, and
// broadcasts the terminal event. The partial result file must never survive
// with a valid footer.
func (d *Dispatcher) fail(job *jobs.Job, w *results.Writer, msg string) {
	if w != nil {
		w.Abort()
	}
	if !job.Finish(jobs.StatusFailed, msg) {
		return
	}
	p := job.ProgressNow()
	d.bc.Publish(job.ID, jobs.Event{
		JobID:    job.ID,
		Kind:     jobs.EventFailed,
		Status:   jobs.StatusFailed,
		Progress: &p,
		Error:    msg,
	})
	d.log.Warn("job failed", zap.String("job_id", job.ID), zap.String("error", msg))
}

// publishProgress emits at most one event per window.
func (d *Dispatcher) publishProgress(job *jobs.Job) {
	p := job.ProgressNow()
	d.bc.Publish(job.ID, jobs.Event{
		JobID:    job.ID,
		Kind:     jobs.EventProgress,
		Status:   job.Status(),
		Progress: &p,
	})
}

// terminalMessage renders the cancellation cause for the job record.
func terminalMessage(ctx context.Context) string {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, jobs.ErrCancelledByUser):
		return jobs.ErrCancelledByUser.Error()
	case errors.Is(cause, context.DeadlineExceeded):
		return "job timed out"
	case cause != nil:
		return cause.Error()
	default:
		return "cancelled"
	}
}
