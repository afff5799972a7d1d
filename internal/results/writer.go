// Package results streams a job's feature collection to disk and writes the
// sibling metadata document on completion. At most one feature is held in
// memory at a time, so gigabyte-scale outputs stream in constant space.
package results

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	collectionHeader = `{"type":"FeatureCollection","features":[`
	collectionFooter = "\n]}\n"
)

// ResultPath is the on-disk location of a job's feature collection.
func ResultPath(dir, jobID string) string {
	return filepath.Join(dir, "routing_results_"+jobID+".geojson")
}

// MetadataPath is the on-disk location of a job's metadata document.
func MetadataPath(dir, jobID string) string {
	return filepath.Join(dir, "routing_metadata_"+jobID+".json")
}

// Summary aggregates a finished job for the metadata document.
type Summary struct {
	TotalRows            int     `json:"totalRows"`
	Successful           int     `json:"successful"`
	Failed               int     `json:"failed"`
	TotalDistanceMetres  float64 `json:"totalDistance"`
	TotalDurationSeconds float64 `json:"totalDuration"`
}

// Timing is the job's wall-clock bracket.
type Timing struct {
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	DurationMS  int64     `json:"durationMs"`
}

// Metadata is the sibling document written next to the feature collection.
type Metadata struct {
	JobID         string    `json:"jobId"`
	Summary       Summary   `json:"summary"`
	GeneratedAt   time.Time `json:"generatedAt"`
	Configuration any       `json:"configuration"`
	Timing        Timing    `json:"timing"`
	ResultFile    string    `json:"resultFile"`
	MetadataFile  string    `json:"metadataFile"`
}

// Writer streams one job's feature collection. Not safe for concurrent use;
// the dispatcher owns it exclusively.
type Writer struct {
	jobID    string
	path     string
	metaPath string
	f        *os.File
	written  int
	closed   bool
}

// NewWriter creates the result file and writes the collection header.
func NewWriter(dir, jobID string) (*Writer, error) {
	path := ResultPath(dir, jobID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("results: create %s: %w", path, err)
	}
	if _, err := f.WriteString(collectionHeader); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("results: write header: %w", err)
	}
	return &Writer{
		jobID:    jobID,
		path:     path,
		metaPath: MetadataPath(dir, jobID),
		f:        f,
	}, nil
}

// Path returns the result file location.
func (w *Writer) Path() string { return w.path }

// MetaPath returns the metadata file location.
func (w *Writer) MetaPath() string { return w.metaPath }

// WriteFeature appends one successful row. The feature carries the row's
// original fields plus the derived routing properties; geometry may be nil
// when the job does not export geometry.
func (w *Writer) WriteFeature(rowIndex int, fields map[string]string, distance, duration float64, line orb.LineString) error {
	if w.closed {
		return fmt.Errorf("results: writer already closed")
	}

	props := make(geojson.Properties, len(fields)+5)
	for k, v := range fields {
		props[k] = v
	}
	props["distance"] = distance
	props["duration"] = duration
	props["distance_km"] = math.Round(distance/10) / 100
	props["duration_minutes"] = math.Round(duration/60*100) / 100
	props["rowIndex"] = rowIndex

	// geometry must be present but null when the job exports no geometry;
	// orb's Feature marshaller cannot express that, so the document is built
	// directly.
	doc := struct {
		Type       string             `json:"type"`
		Geometry   *geojson.Geometry  `json:"geometry"`
		Properties geojson.Properties `json:"properties"`
	}{Type: "Feature", Properties: props}
	if line != nil {
		doc.Geometry = geojson.NewGeometry(line)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("results: marshal feature: %w", err)
	}

	sep := ",\n"
	if w.written == 0 {
		sep = "\n"
	}
	if _, err := w.f.WriteString(sep); err != nil {
		return fmt.Errorf("results: write: %w", err)
	}
	if _, err := w.f.Write(b); err != nil {
		return fmt.Errorf("results: write: %w", err)
	}
	w.written++
	return nil
}

// Count reports the number of features written so far.
func (w *Writer) Count() int { return w.written }

// Close writes the collection footer, syncs the result file, and atomically
// writes the metadata sibling. On any error the partial result file is
// removed so no file is ever left with a valid footer but missing data.
func (w *Writer) Close(summary Summary, timing Timing, config any) error {
	if w.closed {
		return fmt.Errorf("results: writer already closed")
	}
	w.closed = true

	if _, err := w.f.WriteString(collectionFooter); err != nil {
		w.discard()
		return fmt.Errorf("results: write footer: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		w.discard()
		return fmt.Errorf("results: sync: %w", err)
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.path)
		return fmt.Errorf("results: close: %w", err)
	}

	meta := Metadata{
		JobID:         w.jobID,
		Summary:       summary,
		GeneratedAt:   time.Now().UTC(),
		Configuration: config,
		Timing:        timing,
		ResultFile:    filepath.Base(w.path),
		MetadataFile:  filepath.Base(w.metaPath),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		_ = os.Remove(w.path)
		return fmt.Errorf("results: marshal metadata: %w", err)
	}
	tmp := w.metaPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		_ = os.Remove(w.path)
		return fmt.Errorf("results: write metadata: %w", err)
	}
	if err := os.Rename(tmp, w.metaPath); err != nil {
		_ = os.Remove(w.path)
		_ = os.Remove(tmp)
		return fmt.Errorf("results: publish metadata: %w", err)
	}
	return nil
}

// Abort discards the partial result file. Used on job failure and
// cancellation; idempotent.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.discard()
}

func (w *Writer) discard() {
	_ = w.f.Close()
	_ = os.Remove(w.path)
}
