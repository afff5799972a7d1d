package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

type runnerFunc func(*Job)

func (f runnerFunc) Run(j *Job) { f(j) }

func newTestRegistry(t *testing.T, opts Options, run runnerFunc) *Registry {
	t.Helper()
	if run == nil {
		run = func(*Job) {}
	}
	if opts.ResultsDir == "" {
		opts.ResultsDir = t.TempDir()
	}
	return NewRegistry(opts, run, NewBroadcaster(), zap.NewNop())
}

func TestRegistry_CreateSchedulesRunner(t *testing.T) {
	ran := make(chan string, 1)
	r := newTestRegistry(t, Options{}, func(j *Job) {
		j.SetProcessing()
		j.Finish(StatusCompleted, "")
		ran <- j.ID
	})

	job := r.Create(Configuration{FileID: "f1", CRSCode: "EPSG:4326"}, 10)
	if job.ID == "" {
		t.Fatal("empty job id")
	}
	if got := job.ProgressNow(); got.Total != 10 || got.Processed != 0 {
		t.Fatalf("initial progress: %+v", got)
	}

	select {
	case id := <-ran:
		if id != job.ID {
			t.Fatalf("runner saw %s, want %s", id, job.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner never invoked")
	}

	got, ok := r.Get(job.ID)
	if !ok || got != job {
		t.Fatal("Get did not return the created job")
	}
}

func TestRegistry_SameConfigDistinctJobs(t *testing.T) {
	r := newTestRegistry(t, Options{}, nil)
	cfg := Configuration{FileID: "f1"}
	a := r.Create(cfg, 1)
	b := r.Create(cfg, 1)
	if a.ID == b.ID {
		t.Fatal("two submissions shared a job id")
	}
}

func TestRegistry_Cancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	r := newTestRegistry(t, Options{}, func(j *Job) {
		j.SetProcessing()
		close(started)
		<-j.Context().Done()
		j.Finish(StatusFailed, context.Cause(j.Context()).Error())
		close(release)
	})

	job := r.Create(Configuration{}, 5)
	<-started

	fresh, err := r.Cancel(job.ID)
	if err != nil || !fresh {
		t.Fatalf("first cancel: fresh=%v err=%v", fresh, err)
	}
	fresh, err = r.Cancel(job.ID)
	if err != nil || fresh {
		t.Fatalf("second cancel must be a no-op: fresh=%v err=%v", fresh, err)
	}

	select {
	case <-release:
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation never reached the runner")
	}
	snap := job.Snapshot()
	if snap.Status != StatusFailed || snap.Error != "cancelled by user" {
		t.Fatalf("terminal state after cancel: %+v", snap)
	}

	// Terminal: no further cancel.
	if fresh, _ := r.Cancel(job.ID); fresh {
		t.Fatal("cancel after terminal state must return false")
	}
}

func TestRegistry_CancelUnknownJob(t *testing.T) {
	r := newTestRegistry(t, Options{}, nil)
	if _, err := r.Cancel("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_CancelBeforeProcessing(t *testing.T) {
	r := newTestRegistry(t, Options{}, func(j *Job) {
		// Simulate a dispatcher that observes cancellation before starting.
		if j.Context().Err() == nil {
			<-j.Context().Done()
		}
		j.Finish(StatusFailed, context.Cause(j.Context()).Error())
	})
	job := r.Create(Configuration{}, 5)
	if _, err := r.Cancel(job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitTerminal(t, job)
	if job.Status() != StatusFailed {
		t.Fatalf("pre-processing cancel must still fail the job, got %s", job.Status())
	}
}

func TestRegistry_Cleanup(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, Options{ResultsDir: dir}, func(j *Job) {
		resultPath := filepath.Join(dir, "routing_results_"+j.ID+".geojson")
		metaPath := filepath.Join(dir, "routing_metadata_"+j.ID+".json")
		mustWrite(t, resultPath)
		mustWrite(t, metaPath)
		j.SetPaths(resultPath, metaPath)
		j.SetProcessing()
		j.Finish(StatusCompleted, "")
	})

	job := r.Create(Configuration{}, 1)
	waitTerminal(t, job)

	if err := r.Cleanup(job.ID); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	resultPath, metaPath := job.Paths()
	for _, p := range []string{resultPath, metaPath} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("file survived cleanup: %s", p)
		}
	}
	if _, ok := r.Get(job.ID); ok {
		t.Fatal("record survived cleanup")
	}
	// Idempotent at the API level: the record is gone.
	if err := r.Cleanup(job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second cleanup: %v", err)
	}
}

func TestRegistry_CleanupRunningJobRefused(t *testing.T) {
	block := make(chan struct{})
	r := newTestRegistry(t, Options{}, func(j *Job) {
		j.SetProcessing()
		<-block
		j.Finish(StatusCompleted, "")
	})
	defer close(block)

	job := r.Create(Configuration{}, 1)
	deadline := time.Now().Add(2 * time.Second)
	for job.Status() != StatusProcessing {
		if time.Now().After(deadline) {
			t.Fatal("job never started")
		}
		time.Sleep(time.Millisecond)
	}
	if err := r.Cleanup(job.ID); !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal, got %v", err)
	}
}

func TestRegistry_EvictsOldestTerminal(t *testing.T) {
	r := newTestRegistry(t, Options{MaxJobsKept: 2}, func(j *Job) {
		j.SetProcessing()
		j.Finish(StatusCompleted, "")
	})

	var ids []string
	for i := 0; i < 4; i++ {
		job := r.Create(Configuration{}, 1)
		waitTerminal(t, job)
		ids = append(ids, job.ID)
		time.Sleep(2 * time.Millisecond) // distinct CreatedAt ordering
	}
	r.HousekeepOnce()

	for _, id := range ids[:2] {
		if _, ok := r.Get(id); ok {
			t.Fatalf("oldest job %s not evicted", id)
		}
	}
	for _, id := range ids[2:] {
		if _, ok := r.Get(id); !ok {
			t.Fatalf("recent job %s wrongly evicted", id)
		}
	}
}

func TestRegistry_PruneResultFiles(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, Options{ResultsDir: dir, MaxResultsKept: 2}, nil)

	for i, id := range []string{"a", "b", "c", "d"} {
		res := filepath.Join(dir, "routing_results_"+id+".geojson")
		meta := filepath.Join(dir, "routing_metadata_"+id+".json")
		mustWrite(t, res)
		mustWrite(t, meta)
		old := time.Now().Add(-time.Duration(10-i) * time.Hour)
		if err := os.Chtimes(res, old, old); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	r.HousekeepOnce()

	for _, id := range []string{"a", "b"} {
		if _, err := os.Stat(filepath.Join(dir, "routing_results_"+id+".geojson")); !os.IsNotExist(err) {
			t.Fatalf("old result %s not pruned", id)
		}
		if _, err := os.Stat(filepath.Join(dir, "routing_metadata_"+id+".json")); !os.IsNotExist(err) {
			t.Fatalf("old metadata %s not pruned", id)
		}
	}
	for _, id := range []string{"c", "d"} {
		if _, err := os.Stat(filepath.Join(dir, "routing_results_"+id+".geojson")); err != nil {
			t.Fatalf("recent result %s wrongly pruned: %v", id, err)
		}
	}
}

func TestJob_CountersStayConsistent(t *testing.T) {
	j := &Job{status: StatusProcessing, progress: Progress{Total: 10}}
	j.AdvanceRow(true)
	j.AdvanceRow(false)
	j.AdvanceRow(true)
	p := j.ProgressNow()
	if p.Processed != p.Successful+p.Failed {
		t.Fatalf("processed != successful + failed: %+v", p)
	}
	if p.Processed != 3 || p.Successful != 2 || p.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", p)
	}
}

func TestJob_FinishIsOneShot(t *testing.T) {
	j := &Job{status: StatusProcessing}
	if !j.Finish(StatusCompleted, "") {
		t.Fatal("first finish rejected")
	}
	if j.Finish(StatusFailed, "late") {
		t.Fatal("second finish accepted")
	}
	snap := j.Snapshot()
	if snap.Status != StatusCompleted || snap.Error != "" {
		t.Fatalf("terminal state overwritten: %+v", snap)
	}
	if snap.CompletedAt == nil {
		t.Fatal("completedAt not set on terminal transition")
	}
}

func waitTerminal(t *testing.T, j *Job) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !j.Status().Terminal() {
		if time.Now().After(deadline) {
			t.Fatalf("job %s never reached a terminal state", j.ID)
		}
		time.Sleep(time.Millisecond)
	}
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
