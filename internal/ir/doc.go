// Package ir provides the canonical data model for entmap.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal, which keeps it the foundational
// layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - fixed-precision amounts are IRDecimal text
//   - Entity identity is (entity type, natural key), encoded canonically
//   - Declarations (FieldRule, MappingOperation) are plain values; the
//     compiler turns them into immutable plans
//   - All JSON tags use snake_case
package ir
