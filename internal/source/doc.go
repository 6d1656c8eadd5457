// Package source provides record sources for engine batches: a CSV reader
// with header mapping, and an in-memory source for scenarios and tests.
package source
