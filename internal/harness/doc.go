// Package harness runs end-to-end conformance scenarios.
//
// A scenario is a YAML file naming a declaration document, a set of input
// records, and assertions about the batch outcome:
//
//	name: awards_end_to_end
//	config: ../configs/awards.yaml
//	records:
//	  - {contract_award_unique_key: CONT123, agency_code: "012", sub_agency_code: "34"}
//	assertions:
//	  - {type: entity_count, entity_type: agency, count: 1}
//	  - type: edge
//	    state: resolved
//	    from: {entity_type: contract, key: [CONT123]}
//	    to: {entity_type: agency, key: ["012", "34"]}
//
// Run compiles the configuration into a fresh engine with deterministic ids
// and clock, processes the records as one batch, writes the batch to an
// in-memory store, and checks the assertions against what the store reads
// back. RunWithGolden also compares a canonical JSON snapshot of the batch
// against testdata/golden/<name>.golden.
package harness
