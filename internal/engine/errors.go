package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoGeneration is returned when a batch starts before any Reload.
	ErrNoGeneration = errors.New("no configuration generation loaded")

	// ErrSourceFailed wraps a fatal record source error. The batch result
	// returned with it is partial.
	ErrSourceFailed = errors.New("record source failed")
)

// Stage says which step of record processing reported a RecordError.
type Stage string

const (
	StageValidation Stage = "validation"
	StageMapping    Stage = "mapping"
)

// RecordError is one problem found while processing a record. Record is
// the 1-based position of the record in the source.
type RecordError struct {
	Record     int    `json:"record"`
	EntityType string `json:"entity_type"`
	Stage      Stage  `json:"stage"`
	Field      string `json:"field,omitempty"`
	Code       string `json:"code"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e RecordError) Error() string {
	return fmt.Sprintf("record %d: %s %s: %s: %s", e.Record, e.EntityType, e.Stage, e.Code, e.Message)
}

// IsSourceError reports whether err came from the record source.
// Uses errors.Is to handle wrapped errors.
func IsSourceError(err error) bool {
	return errors.Is(err, ErrSourceFailed)
}
