// Package config decodes entmap declaration documents.
//
// A document declares, per entity type, its natural key, its mapping
// operations, and its validation rules, plus the settings of the named
// caches. Documents may be written in YAML, JSON, or CUE; all three decode
// into the same Document.
//
// This package performs no semantic checks. Unknown rule or mapping kinds
// pass through unchanged so the compiler can report them as ConfigErrors
// with the full context of the entity they belong to.
package config
