package server

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/danshapiro/routeforge/internal/jobs"
)

//go:embed batch_schema.json
var batchSchemaJSON []byte

// batchSchema validates routing submissions before any field is touched.
// Compiled once at init; the schema is embedded, so a failure here is a
// programming error.
var batchSchema = jsonschema.MustCompileString("batch_schema.json", string(batchSchemaJSON))

// maxBatchBody caps the submission body. Configurations are small; anything
// larger is a client error.
const maxBatchBody = 1 << 20

// decodeConfiguration reads and validates a routing submission. Schema
// violations come back as field-level problem strings; a malformed body is
// an error.
func decodeConfiguration(r *http.Request, cfg *jobs.Configuration) ([]string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBatchBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if err := batchSchema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return flattenValidation(ve), nil
		}
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return nil, nil
}

// flattenValidation turns the schema error tree into one problem string per
// leaf cause.
func flattenValidation(ve *jsonschema.ValidationError) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}
