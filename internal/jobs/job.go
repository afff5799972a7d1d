// Package jobs owns the live job records, their lifecycle state, the
// cancellation signals, and the per-job event fan-out to connected clients.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/danshapiro/routeforge/internal/geometry"
)

// Status is the job lifecycle state. Transitions only move forward:
// pending -> processing -> completed|failed. Failed is terminal and includes
// user cancellation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status admits no further transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FieldPair names the two columns holding one coordinate.
type FieldPair struct {
	X string `json:"x"`
	Y string `json:"y"`
}

// Configuration is a submitted routing job. Immutable after submission.
type Configuration struct {
	FileID            string          `json:"fileId"`
	CRSCode           string          `json:"crs"`
	OriginFields      FieldPair       `json:"originFields"`
	DestinationFields FieldPair       `json:"destinationFields"`
	Geometry          geometry.Policy `json:"geometry"`
	OutputFormat      string          `json:"outputFormat,omitempty"`
}

// Progress holds the job's counters. Total is fixed at creation; the others
// grow monotonically and satisfy processed == successful + failed.
type Progress struct {
	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// RowFailure is the bounded in-memory record of one failed row. Only the
// index and reason are kept; the row's fields are not retained.
type RowFailure struct {
	RowIndex int    `json:"rowIndex"`
	Reason   string `json:"error"`
}

// Job is one routing run. The registry owns the record; the dispatcher holds
// the only write reference while running, and HTTP handlers read snapshots.
type Job struct {
	ID        string
	CreatedAt time.Time
	Config    Configuration

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu          sync.Mutex
	status      Status
	progress    Progress
	startedAt   time.Time
	completedAt time.Time
	errMsg      string
	failures    []RowFailure
	resultPath  string
	metaPath    string
	cancelled   bool
}

// Context carries the job's cancellation signal. Threaded through the
// dispatcher, the routing client, and every suspension point in between.
func (j *Job) Context() context.Context { return j.ctx }

// SetProcessing transitions pending -> processing and records startedAt.
// A job already cancelled or terminal is left untouched and false is
// returned.
func (j *Job) SetProcessing() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusPending {
		return false
	}
	j.status = StatusProcessing
	j.startedAt = time.Now().UTC()
	return true
}

// AdvanceRow applies one row's terminal outcome to the counters. The three
// increments happen under one lock acquisition, so every observer sees
// processed == successful + failed.
func (j *Job) AdvanceRow(success bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.Processed++
	if success {
		j.progress.Successful++
	} else {
		j.progress.Failed++
	}
}

// RecordFailure appends a bounded failure record for the results endpoint.
func (j *Job) RecordFailure(rowIndex int, reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failures = append(j.failures, RowFailure{RowIndex: rowIndex, Reason: reason})
}

// SetPaths records where the dispatcher streams this job's output.
func (j *Job) SetPaths(resultPath, metaPath string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.resultPath = resultPath
	j.metaPath = metaPath
}

// Paths returns the result and metadata file locations.
func (j *Job) Paths() (resultPath, metaPath string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.resultPath, j.metaPath
}

// Finish transitions to a terminal state exactly once. Later calls are
// no-ops, so a cancellation racing normal completion cannot double-fire.
// Returns true iff this call performed the transition.
func (j *Job) Finish(status Status, errMsg string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = status
	j.errMsg = errMsg
	j.completedAt = time.Now().UTC()
	return true
}

// requestCancel flips the one-shot cancellation flag. Returns true iff the
// flag was freshly set on a non-terminal job.
func (j *Job) requestCancel(cause error) bool {
	j.mu.Lock()
	fresh := !j.cancelled && !j.status.Terminal()
	j.cancelled = true
	j.mu.Unlock()
	if fresh {
		j.cancel(cause)
	}
	return fresh
}

// Snapshot is the read-only view served by the status endpoint.
type Snapshot struct {
	ID            string        `json:"id"`
	Status        Status        `json:"status"`
	Progress      Progress      `json:"progress"`
	CreatedAt     time.Time     `json:"createdAt"`
	StartedAt     *time.Time    `json:"startedAt,omitempty"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty"`
	Error         string        `json:"error,omitempty"`
	Configuration Configuration `json:"configuration"`
}

// Snapshot copies the job's observable state under the lock.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := Snapshot{
		ID:            j.ID,
		Status:        j.status,
		Progress:      j.progress,
		CreatedAt:     j.CreatedAt,
		Error:         j.errMsg,
		Configuration: j.Config,
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}
	if !j.completedAt.IsZero() {
		t := j.completedAt
		s.CompletedAt = &t
	}
	return s
}

// Failures returns a copy of the bounded per-row failure records.
func (j *Job) Failures() []RowFailure {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]RowFailure, len(j.failures))
	copy(out, j.failures)
	return out
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// ProgressNow returns the current counters.
func (j *Job) ProgressNow() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// Timing returns the wall-clock bracket. completedAt is zero while running.
func (j *Job) Timing() (startedAt, completedAt time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.startedAt, j.completedAt
}
