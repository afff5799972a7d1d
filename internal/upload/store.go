// Package upload owns ingested tabular files: persistence keyed by content
// hash, dialect sniffing (encoding, separator, decimal mark), and the lazy
// row iterator the dispatcher consumes.
package upload

import (
	"bytes"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

// Descriptor is the immutable record of one ingested file.
type Descriptor struct {
	FileID       string    `json:"fileId"`
	OriginalName string    `json:"originalName"`
	SizeBytes    int64     `json:"size"`
	Encoding     string    `json:"encoding"`  // "utf-8" or "latin-1"
	Separator    string    `json:"separator"` // single rune
	DecimalMark  string    `json:"decimalMark"`
	Columns      []string  `json:"columns"`
	RowCount     int       `json:"rowCount"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// ErrNotFound is returned for unknown file identifiers.
var ErrNotFound = fmt.Errorf("upload: file not found")

// Store persists uploads under a directory, one raw file plus one descriptor
// document per identifier.
type Store struct {
	dir      string
	maxBytes int64
	log      *zap.Logger
}

func NewStore(dir string, maxBytes int64, log *zap.Logger) *Store {
	return &Store{dir: dir, maxBytes: maxBytes, log: log}
}

// Save ingests a tabular file: sniffs its dialect, counts rows, and persists
// the raw bytes and descriptor. The identifier is a blake3 content prefix, so
// re-uploading identical bytes yields the same identifier.
func (s *Store) Save(r io.Reader, originalName string) (Descriptor, error) {
	raw, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return Descriptor{}, fmt.Errorf("upload: read: %w", err)
	}
	if int64(len(raw)) > s.maxBytes {
		return Descriptor{}, fmt.Errorf("upload: file exceeds %d bytes", s.maxBytes)
	}
	if len(raw) == 0 {
		return Descriptor{}, fmt.Errorf("upload: empty file")
	}

	h := blake3.New()
	_, _ = h.Write(raw)
	fileID := hex.EncodeToString(h.Sum(nil))[:16]

	desc, err := sniff(raw)
	if err != nil {
		return Descriptor{}, err
	}
	desc.FileID = fileID
	desc.OriginalName = filepath.Base(originalName)
	desc.SizeBytes = int64(len(raw))
	desc.UploadedAt = time.Now().UTC()

	if err := os.WriteFile(s.rawPath(desc.FileID, desc.OriginalName), raw, 0o644); err != nil {
		return Descriptor{}, fmt.Errorf("upload: persist: %w", err)
	}
	if err := writeJSONFile(s.descPath(fileID), desc); err != nil {
		return Descriptor{}, err
	}
	s.log.Info("upload ingested",
		zap.String("file_id", fileID),
		zap.String("name", desc.OriginalName),
		zap.Int("rows", desc.RowCount),
		zap.String("encoding", desc.Encoding),
		zap.String("separator", desc.Separator))
	return desc, nil
}

// Get loads a descriptor by identifier.
func (s *Store) Get(fileID string) (Descriptor, error) {
	b, err := os.ReadFile(s.descPath(fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return Descriptor{}, ErrNotFound
		}
		return Descriptor{}, fmt.Errorf("upload: read descriptor: %w", err)
	}
	var d Descriptor
	if err := json.Unmarshal(b, &d); err != nil {
		return Descriptor{}, fmt.Errorf("upload: parse descriptor: %w", err)
	}
	return d, nil
}

// Sample returns the first limit rows as column-keyed maps.
func (s *Store) Sample(fileID string, limit int) ([]map[string]string, Descriptor, error) {
	desc, err := s.Get(fileID)
	if err != nil {
		return nil, Descriptor{}, err
	}
	it, err := s.OpenIterator(desc)
	if err != nil {
		return nil, Descriptor{}, err
	}
	defer it.Close()

	rows := make([]map[string]string, 0, limit)
	for len(rows) < limit {
		row, ok := it.Next()
		if !ok {
			break
		}
		if row.Err != nil {
			continue
		}
		rows = append(rows, row.Fields)
	}
	return rows, desc, it.Err()
}

func (s *Store) rawPath(fileID, name string) string {
	return filepath.Join(s.dir, fileID+"_"+sanitizeName(name))
}

func (s *Store) descPath(fileID string) string {
	return filepath.Join(s.dir, fileID+".json")
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		out = "upload.csv"
	}
	return out
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// sniff detects encoding, separator, decimal mark, columns, and row count.
func sniff(raw []byte) (Descriptor, error) {
	d := Descriptor{Encoding: "utf-8", DecimalMark: "."}
	if !utf8.Valid(raw) {
		d.Encoding = "latin-1"
	}

	decoded, err := decodeAll(raw, d.Encoding)
	if err != nil {
		return d, fmt.Errorf("upload: decode: %w", err)
	}
	decoded = bytes.TrimPrefix(decoded, []byte{0xEF, 0xBB, 0xBF}) // UTF-8 BOM

	firstLine := decoded
	if i := bytes.IndexAny(decoded, "\r\n"); i >= 0 {
		firstLine = decoded[:i]
	}
	d.Separator = detectSeparator(string(firstLine))

	cr := newCSVReader(bytes.NewReader(decoded), d.Separator)
	header, err := cr.Read()
	if err != nil {
		return d, fmt.Errorf("upload: read header: %w", err)
	}
	for _, col := range header {
		d.Columns = append(d.Columns, strings.TrimSpace(col))
	}

	decimalCandidate := d.Separator != ","
	sawCommaDecimal := false
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed rows still count toward the total; the iterator
			// yields them as malformed-row records.
			d.RowCount++
			continue
		}
		d.RowCount++
		if decimalCandidate && !sawCommaDecimal {
			for _, f := range rec {
				if looksLikeCommaDecimal(f) {
					sawCommaDecimal = true
					break
				}
			}
		}
	}
	if decimalCandidate && sawCommaDecimal {
		d.DecimalMark = ","
	}
	return d, nil
}

func decodeAll(raw []byte, encoding string) ([]byte, error) {
	if encoding != "latin-1" {
		return raw, nil
	}
	return charmap.ISO8859_1.NewDecoder().Bytes(raw)
}

func detectSeparator(line string) string {
	best, bestCount := ",", strings.Count(line, ",")
	for _, cand := range []string{";", "\t", "|"} {
		if n := strings.Count(line, cand); n > bestCount {
			best, bestCount = cand, n
		}
	}
	return best
}

// looksLikeCommaDecimal matches fields like "48,85" or "-2,5".
func looksLikeCommaDecimal(f string) bool {
	f = strings.TrimSpace(f)
	comma := strings.IndexByte(f, ',')
	if comma <= 0 || comma == len(f)-1 || strings.Count(f, ",") != 1 {
		return false
	}
	intPart, fracPart := f[:comma], f[comma+1:]
	intPart = strings.TrimPrefix(intPart, "-")
	if intPart == "" {
		return false
	}
	for _, r := range intPart + fracPart {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func newCSVReader(r io.Reader, sep string) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = []rune(sep)[0]
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}
