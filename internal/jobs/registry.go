package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// ErrCancelledByUser is the cancellation cause set by the cancel endpoint.
// The dispatcher reports it verbatim as the job's terminal error.
var ErrCancelledByUser = errors.New("cancelled by user")

// ErrNotFound is returned for unknown or evicted job identifiers.
var ErrNotFound = errors.New("jobs: job not found")

// ErrNotTerminal is returned when cleanup is requested for a running job.
var ErrNotTerminal = errors.New("jobs: job not in a terminal state")

// Runner executes a job to its terminal state. The dispatcher implements it;
// the indirection keeps the registry free of routing concerns.
type Runner interface {
	Run(job *Job)
}

// Options tune the registry's retention behaviour.
type Options struct {
	ResultsDir string
	// JobTimeout, when positive, bounds each job's context.
	JobTimeout time.Duration
	// MaxJobsKept caps retained records; oldest terminal ones are evicted.
	MaxJobsKept int
	// MaxResultsKept caps result/metadata file pairs on disk.
	MaxResultsKept int
	// CleanupInterval is the housekeeping loop period.
	CleanupInterval time.Duration
	// ImmediateCleanup deletes an evicted job's files along with its record.
	ImmediateCleanup bool
}

// Registry owns every live job record and its subscription fan-out.
// All mutations are short critical sections; dispatchers never hold the
// registry lock while doing I/O.
type Registry struct {
	opts        Options
	runner      Runner
	broadcaster *Broadcaster
	log         *zap.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewRegistry creates an empty registry. The runner is invoked on its own
// goroutine for every created job.
func NewRegistry(opts Options, runner Runner, bc *Broadcaster, log *zap.Logger) *Registry {
	return &Registry{
		opts:        opts,
		runner:      runner,
		broadcaster: bc,
		log:         log,
		jobs:        make(map[string]*Job),
	}
}

// Broadcaster exposes the event fan-out for the WebSocket boundary.
func (r *Registry) Broadcaster() *Broadcaster { return r.broadcaster }

// Create allocates a job record with a fresh identifier and cancellation
// signal, registers it, and schedules the dispatcher. Returns before the
// dispatcher completes. The caller has already validated the configuration.
func (r *Registry) Create(cfg Configuration, total int) *Job {
	ctx := context.Background()
	var cancelTimeout context.CancelFunc
	if r.opts.JobTimeout > 0 {
		ctx, cancelTimeout = context.WithTimeout(ctx, r.opts.JobTimeout)
	}
	ctx, cancel := context.WithCancelCause(ctx)

	job := &Job{
		ID:        ulid.Make().String(),
		CreatedAt: time.Now().UTC(),
		Config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		status:    StatusPending,
		progress:  Progress{Total: total},
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	r.log.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("file_id", cfg.FileID),
		zap.String("crs", cfg.CRSCode),
		zap.Int("total", total))

	go func() {
		if cancelTimeout != nil {
			defer cancelTimeout()
		}
		defer cancel(nil)
		r.runner.Run(job)
	}()
	return job
}

// Get returns the live record for an identifier.
func (r *Registry) Get(jobID string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[jobID]
	return j, ok
}

// Cancel sets the job's cancellation signal iff it is non-terminal.
// Returns true iff the signal was freshly set; idempotent otherwise.
func (r *Registry) Cancel(jobID string) (bool, error) {
	job, ok := r.Get(jobID)
	if !ok {
		return false, ErrNotFound
	}
	fresh := job.requestCancel(ErrCancelledByUser)
	if fresh {
		r.log.Info("job cancellation requested", zap.String("job_id", jobID))
	}
	return fresh, nil
}

// CancelAll cancels every non-terminal job. Used on graceful shutdown.
func (r *Registry) CancelAll(cause error) {
	r.mu.RLock()
	all := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		all = append(all, j)
	}
	r.mu.RUnlock()
	for _, j := range all {
		j.requestCancel(cause)
	}
}

// Cleanup deletes a terminal job's result and metadata files and purges its
// record. The original upload is not touched. Idempotent at the HTTP layer:
// a second call reports ErrNotFound.
func (r *Registry) Cleanup(jobID string) error {
	job, ok := r.Get(jobID)
	if !ok {
		return ErrNotFound
	}
	if !job.Status().Terminal() {
		return ErrNotTerminal
	}
	r.removeFiles(job)
	r.mu.Lock()
	delete(r.jobs, jobID)
	r.mu.Unlock()
	r.log.Info("job cleaned up", zap.String("job_id", jobID))
	return nil
}

// ResultFile returns the on-disk location and size of a completed job's
// feature collection.
func (r *Registry) ResultFile(jobID string) (path string, size int64, err error) {
	job, ok := r.Get(jobID)
	if !ok {
		return "", 0, ErrNotFound
	}
	path, _ = job.Paths()
	if path == "" {
		return "", 0, os.ErrNotExist
	}
	fi, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}
	return path, fi.Size(), nil
}

func (r *Registry) removeFiles(job *Job) {
	resultPath, metaPath := job.Paths()
	for _, p := range []string{resultPath, metaPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			r.log.Warn("remove job file", zap.String("path", p), zap.Error(err))
		}
	}
}

// Housekeep runs the retention loop until ctx is done: evict job records
// beyond MaxJobsKept and result file pairs beyond MaxResultsKept, oldest
// first, every CleanupInterval.
func (r *Registry) Housekeep(ctx context.Context) {
	interval := r.opts.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.HousekeepOnce()
		}
	}
}

// HousekeepOnce performs one retention pass.
func (r *Registry) HousekeepOnce() {
	r.evictRecords()
	r.pruneResultFiles()
}

// evictRecords drops the oldest terminal records beyond MaxJobsKept.
// Running jobs are never evicted.
func (r *Registry) evictRecords() {
	if r.opts.MaxJobsKept <= 0 {
		return
	}
	r.mu.Lock()
	excess := len(r.jobs) - r.opts.MaxJobsKept
	var evicted []*Job
	if excess > 0 {
		terminal := make([]*Job, 0, len(r.jobs))
		for _, j := range r.jobs {
			if j.Status().Terminal() {
				terminal = append(terminal, j)
			}
		}
		sort.Slice(terminal, func(a, b int) bool {
			return terminal[a].CreatedAt.Before(terminal[b].CreatedAt)
		})
		if excess > len(terminal) {
			excess = len(terminal)
		}
		for _, j := range terminal[:excess] {
			delete(r.jobs, j.ID)
			evicted = append(evicted, j)
		}
	}
	r.mu.Unlock()

	for _, j := range evicted {
		r.log.Info("job record evicted", zap.String("job_id", j.ID))
		if r.opts.ImmediateCleanup {
			r.removeFiles(j)
		}
	}
}

// pruneResultFiles caps retained result/metadata pairs on disk, deleting the
// oldest pairs first. Pairs belonging to evicted jobs are matched by name.
func (r *Registry) pruneResultFiles() {
	if r.opts.MaxResultsKept <= 0 || r.opts.ResultsDir == "" {
		return
	}
	matches, err := doublestar.Glob(os.DirFS(r.opts.ResultsDir), "routing_results_*.geojson")
	if err != nil {
		r.log.Warn("scan results dir", zap.Error(err))
		return
	}
	if len(matches) <= r.opts.MaxResultsKept {
		return
	}

	type entry struct {
		path string
		mod  time.Time
	}
	entries := make([]entry, 0, len(matches))
	for _, m := range matches {
		full := filepath.Join(r.opts.ResultsDir, m)
		fi, err := os.Stat(full)
		if err != nil {
			continue
		}
		entries = append(entries, entry{path: full, mod: fi.ModTime()})
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].mod.Before(entries[b].mod) })

	for _, e := range entries[:len(entries)-r.opts.MaxResultsKept] {
		meta := metadataSibling(e.path)
		for _, p := range []string{e.path, meta} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				r.log.Warn("prune result file", zap.String("path", p), zap.Error(err))
			}
		}
		r.log.Info("result files pruned", zap.String("path", e.path))
	}
}

// metadataSibling derives routing_metadata_<id>.json from a result path.
func metadataSibling(resultPath string) string {
	dir := filepath.Dir(resultPath)
	base := filepath.Base(resultPath)
	id := base
	id = id[len("routing_results_"):]
	id = id[:len(id)-len(".geojson")]
	return filepath.Join(dir, fmt.Sprintf("routing_metadata_%s.json", id))
}
