package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// Configuration error codes (E100-E199)
const (
	ErrCircularDependency = "E101" // rule dependency graph has a cycle
	ErrUnknownRuleKind    = "E102" // rule_type not recognized
	ErrUnknownMappingKind = "E103" // mapping type not recognized
	ErrMissingDeclaration = "E104" // required declaration absent
	ErrInvalidParam       = "E105" // parameter malformed or out of range
	ErrDuplicate          = "E106" // duplicate entity, target, or rule id
	ErrUnknownReference   = "E107" // reference to an undeclared entity type
	ErrUnknownTransform   = "E108" // transform type not recognized
)

// ConfigError is a compile-time configuration error. No plan or spec is
// usable for a configuration that produced one.
type ConfigError struct {
	Code       string   `json:"code"`
	EntityType string   `json:"entity_type,omitempty"`
	Field      string   `json:"field,omitempty"`
	Message    string   `json:"message"`
	Cycle      []string `json:"cycle,omitempty"` // E101 only: ["a", "b", "a"]
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	var loc []string
	if e.EntityType != "" {
		loc = append(loc, e.EntityType)
	}
	if e.Field != "" {
		loc = append(loc, e.Field)
	}
	if len(loc) == 0 {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, strings.Join(loc, "."), e.Message)
}

func newConfigError(code, entityType, field, format string, args ...any) *ConfigError {
	return &ConfigError{
		Code:       code,
		EntityType: entityType,
		Field:      field,
		Message:    fmt.Sprintf(format, args...),
	}
}

// IsConfigError reports whether err contains a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsCircularDependency reports whether err contains a CircularDependency
// error, and returns the first one found.
func IsCircularDependency(err error) (*ConfigError, bool) {
	for _, ce := range ConfigErrors(err) {
		if ce.Code == ErrCircularDependency {
			return ce, true
		}
	}
	return nil, false
}

// ConfigErrors flattens err (which may be a joined error) into its
// ConfigErrors, in order.
func ConfigErrors(err error) []*ConfigError {
	if err == nil {
		return nil
	}
	var out []*ConfigError
	var walk func(error)
	walk = func(e error) {
		if ce, ok := e.(*ConfigError); ok {
			out = append(out, ce)
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			if inner := u.Unwrap(); inner != nil {
				walk(inner)
			}
		}
	}
	walk(err)
	return out
}

// joinConfigErrors returns nil for an empty list.
func joinConfigErrors(errs []*ConfigError) error {
	if len(errs) == 0 {
		return nil
	}
	list := make([]error, len(errs))
	for i, e := range errs {
		list[i] = e
	}
	return errors.Join(list...)
}
