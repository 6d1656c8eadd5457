package mapper

import "fmt"

// Mapping error codes.
const (
	CodeMissingSource         = "MISSING_SOURCE"         // direct source absent from the record
	CodeAllSourcesEmpty       = "ALL_SOURCES_EMPTY"      // no multi_source candidate had a value
	CodeUnresolvedPlaceholder = "UNRESOLVED_PLACEHOLDER" // template placeholder had no value
	CodeTransformFailed       = "TRANSFORM_FAILED"       // a transform step rejected the value
	CodeMissingReferenceKey   = "MISSING_REFERENCE_KEY"  // reference key field empty; no edge
	CodeMissingKey            = "MISSING_KEY"            // natural key incomplete; record rejected
	CodeValidationRejected    = "VALIDATION_REJECTED"    // a fatal rule failed; record rejected
	CodeUnknownEntityType     = "UNKNOWN_ENTITY_TYPE"    // no spec for the entity type
)

// MappingError describes a problem mapping one attribute. Non-fatal errors
// leave the attribute missing or null and mapping continues; fatal errors
// mean the record produced no entity.
type MappingError struct {
	EntityType string `json:"entity_type"`
	Target     string `json:"target,omitempty"`
	Source     string `json:"source,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Fatal      bool   `json:"fatal,omitempty"`
}

// Error implements the error interface.
func (e MappingError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.EntityType, e.Message)
	}
	return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.EntityType, e.Target, e.Message)
}

// HasFatal reports whether any error in errs is fatal.
func HasFatal(errs []MappingError) bool {
	for _, e := range errs {
		if e.Fatal {
			return true
		}
	}
	return false
}
