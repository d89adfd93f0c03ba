// Package findings reads finding files in the common JSON format: either an
// array of findings or an object with a "findings" array. Documents are
// validated against an embedded JSON Schema before decoding.
package findings

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/issuesync/internal/types"
)

//go:embed schema.json
var schemaJSON []byte

// Stdin is the path that reads findings from standard input.
const Stdin = "-"

// maxConcurrentReads bounds parallel file reads in Load.
const maxConcurrentReads = 8

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	})
	return schema, schemaErr
}

// ValidationError lists the schema violations of a document.
type ValidationError struct {
	Source   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid findings document: %s", e.Source, strings.Join(e.Problems, "; "))
}

// Parse validates and decodes one document. source names it in errors.
// Findings without a confidence default to medium.
func Parse(source string, data []byte) ([]types.Finding, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling findings schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse JSON: %w", source, err)
	}
	if !result.Valid() {
		verr := &ValidationError{Source: source}
		for _, re := range result.Errors() {
			verr.Problems = append(verr.Problems, re.String())
		}
		return nil, verr
	}

	var out []types.Finding
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &out)
	} else {
		var doc struct {
			Findings []types.Finding `json:"findings"`
		}
		err = json.Unmarshal(trimmed, &doc)
		out = doc.Findings
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to decode findings: %w", source, err)
	}

	for i := range out {
		if out[i].Confidence == "" {
			out[i].Confidence = types.ConfidenceMedium
		}
		if err := out[i].Validate(); err != nil {
			return nil, fmt.Errorf("%s: finding %d: %w", source, i, err)
		}
	}
	return out, nil
}

// Read parses a document from r.
func Read(source string, r io.Reader) ([]types.Finding, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read: %w", source, err)
	}
	return Parse(source, data)
}

// Load reads every path concurrently and concatenates the findings in path
// order. Stdin ("-") may appear at most once.
func Load(ctx context.Context, paths ...string) ([]types.Finding, error) {
	stdinCount := 0
	for _, p := range paths {
		if p == Stdin {
			stdinCount++
		}
	}
	if stdinCount > 1 {
		return nil, fmt.Errorf("standard input can be read only once")
	}

	batches := make([][]types.Finding, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			batch, err := loadOne(path)
			if err != nil {
				return err
			}
			batches[i] = batch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []types.Finding
	for _, batch := range batches {
		out = append(out, batch...)
	}
	return out, nil
}

func loadOne(path string) ([]types.Finding, error) {
	if path == Stdin {
		return Read("stdin", os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open findings file: %w", err)
	}
	defer f.Close()
	return Read(path, f)
}
