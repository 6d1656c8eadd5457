package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/roach88/entmap/internal/ir"
)

// CSV reads records from comma-separated text. The first row is the
// header; each later row becomes a record keyed by header name.
//
// Not safe for concurrent use; the engine calls Next from one goroutine.
type CSV struct {
	r      *csv.Reader
	header []string
	nulls  []string
}

// CSVOption configures a CSV source.
type CSVOption func(*CSV)

// WithComma sets the field delimiter.
func WithComma(r rune) CSVOption {
	return func(c *CSV) { c.r.Comma = r }
}

// WithNullValues sets cell texts that read as null, e.g. "NULL" or `\N`.
func WithNullValues(values ...string) CSVOption {
	return func(c *CSV) { c.nulls = slices.Clone(values) }
}

// NewCSV creates a source over r. The header is read by the first Next.
func NewCSV(r io.Reader, opts ...CSVOption) *CSV {
	cr := csv.NewReader(r)
	c := &CSV{r: cr}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Header returns the column names, or nil before the first Next.
func (c *CSV) Header() []string { return slices.Clone(c.header) }

// Next returns the next record, or io.EOF after the last one.
// Malformed rows are errors; the batch reading them stops.
func (c *CSV) Next(ctx context.Context) (ir.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.header == nil {
		if err := c.readHeader(); err != nil {
			return nil, err
		}
	}

	row, err := c.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read csv row: %w", err)
	}

	rec := make(ir.Record, len(c.header))
	for i, name := range c.header {
		cell := row[i]
		if slices.Contains(c.nulls, cell) {
			rec[name] = ir.IRNull{}
			continue
		}
		rec[name] = ir.IRString(cell)
	}
	return rec, nil
}

func (c *CSV) readHeader() error {
	header, err := c.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	seen := make(map[string]bool, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("csv header: column %d has no name", i+1)
		}
		if seen[name] {
			return fmt.Errorf("csv header: duplicate column %q", name)
		}
		seen[name] = true
		header[i] = name
	}
	c.header = header
	return nil
}
