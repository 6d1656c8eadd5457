// Package validation executes compiled validation plans against records.
//
// Each rule of a plan yields pass, fail, or skip. A rule is skipped, never
// run, when any rule it depends on failed or was skipped for the same
// record, so derived checks never report on unverified data.
//
// Rules other than required pass on an empty value; absence is the
// required rule's concern.
//
// A failed fatal rule rejects the record. A failed warning rule nulls its
// field and lets the record proceed. Severity comes only from the rule
// declaration.
//
// Rules in one wave of the plan share no dependency path and may run
// concurrently (see WithParallelism). Outcomes do not depend on the degree
// of parallelism.
package validation
