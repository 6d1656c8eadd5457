package source

import (
	"context"
	"io"

	"github.com/roach88/entmap/internal/ir"
)

// Records is an in-memory source. Err, when set, is returned after the
// records are exhausted instead of io.EOF.
type Records struct {
	records []ir.Record
	pos     int
	Err     error
}

// FromRecords creates a source yielding records in order.
func FromRecords(records ...ir.Record) *Records {
	return &Records{records: records}
}

// Next returns the next record.
func (s *Records) Next(ctx context.Context) (ir.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		if s.Err != nil {
			return nil, s.Err
		}
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}
