package upload

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Row is one record of the upload. Err marks a malformed row (wrong field
// count or unparsable record); the dispatcher fails such rows without
// touching the routing daemon.
type Row struct {
	Index  int
	Fields map[string]string
	Err    error
}

// Iterator is a lazy, once-only pass over the upload's data rows.
// Each job opens its own iterator; it is not restartable.
type Iterator struct {
	f       *os.File
	cr      *csv.Reader
	columns []string
	next    int
	err     error
	done    bool
}

// OpenIterator opens the raw file behind a descriptor and positions the
// reader after the header row.
func (s *Store) OpenIterator(desc Descriptor) (*Iterator, error) {
	f, err := os.Open(s.rawPath(desc.FileID, desc.OriginalName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("upload: open: %w", err)
	}

	var r io.Reader = f
	if desc.Encoding == "latin-1" {
		r = charmap.ISO8859_1.NewDecoder().Reader(f)
	}
	cr := newCSVReader(r, desc.Separator)

	if _, err := cr.Read(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("upload: read header: %w", err)
	}
	return &Iterator{f: f, cr: cr, columns: desc.Columns}, nil
}

// Next yields the next row. The second return is false on exhaustion;
// check Err for a fatal I/O failure afterwards.
func (it *Iterator) Next() (Row, bool) {
	if it.done {
		return Row{}, false
	}
	rec, err := it.cr.Read()
	if err == io.EOF {
		it.done = true
		return Row{}, false
	}
	if err != nil {
		var perr *csv.ParseError
		if !errors.As(err, &perr) {
			// Underlying I/O failure: fatal for the whole job.
			it.err = err
			it.done = true
			return Row{}, false
		}
		idx := it.next
		it.next++
		return Row{Index: idx, Fields: map[string]string{}, Err: err}, true
	}
	idx := it.next
	it.next++
	if len(rec) != len(it.columns) {
		return Row{
			Index:  idx,
			Fields: map[string]string{},
			Err:    fmt.Errorf("row has %d fields, header has %d", len(rec), len(it.columns)),
		}, true
	}
	fields := make(map[string]string, len(rec))
	for i, col := range it.columns {
		fields[col] = strings.TrimSpace(rec[i])
	}
	return Row{Index: idx, Fields: fields}, true
}

// Err reports a fatal iterator failure. Row-level malformedness is carried on
// the rows themselves, not here.
func (it *Iterator) Err() error { return it.err }

func (it *Iterator) Close() error { return it.f.Close() }

// ParseCoordinate converts a field value to a float, honouring the upload's
// decimal mark. Empty values are an error.
func ParseCoordinate(value, decimalMark string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty coordinate value")
	}
	if decimalMark == "," {
		if strings.Contains(value, ".") {
			return 0, fmt.Errorf("unexpected dot in comma-decimal value %q", value)
		}
		value = strings.Replace(value, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", value)
	}
	return f, nil
}
