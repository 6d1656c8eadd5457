package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/entmap/internal/config"
	"github.com/roach88/entmap/internal/ir"
)

// Scenario is one conformance test loaded from YAML.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Config is the path of a declaration document, relative to the
	// scenario file. Declarations embeds the document instead.
	Config       string           `yaml:"config,omitempty"`
	Declarations *config.Document `yaml:"declarations,omitempty"`

	// Records are the batch input. CSV names a file (relative to the
	// scenario) to read instead. A YAML null is a null cell.
	Records []map[string]*string `yaml:"records,omitempty"`
	CSV     string               `yaml:"csv,omitempty"`

	Workers    int         `yaml:"workers,omitempty"`
	Assertions []Assertion `yaml:"assertions"`

	dir string
}

// Assertion types.
const (
	AssertEntity        = "entity"
	AssertEntityCount   = "entity_count"
	AssertEdge          = "edge"
	AssertEdgeCount     = "edge_count"
	AssertRecordError   = "record_error"
	AssertErrorCount    = "error_count"
	AssertRejectedCount = "rejected_count"
)

var assertionTypes = []string{
	AssertEntity, AssertEntityCount, AssertEdge, AssertEdgeCount,
	AssertRecordError, AssertErrorCount, AssertRejectedCount,
}

// Assertion is one expectation about the batch outcome. Which fields apply
// depends on Type.
type Assertion struct {
	Type string `yaml:"type"`

	// entity, entity_count, record_error
	EntityType string   `yaml:"entity_type,omitempty"`
	Key        []string `yaml:"key,omitempty"`

	// Attributes must match exactly for each listed name. Scalars compare by
	// text, so quote decimals ("1500.50") to keep YAML from reading floats.
	// Absent lists attributes that must not be present.
	Attributes map[string]any `yaml:"attributes,omitempty"`
	Absent     []string       `yaml:"absent,omitempty"`

	// edge, edge_count
	State  string   `yaml:"state,omitempty"`
	From   *RefSpec `yaml:"from,omitempty"`
	To     *RefSpec `yaml:"to,omitempty"`
	Reason string   `yaml:"reason,omitempty"`

	// record_error
	Record   int    `yaml:"record,omitempty"`
	Code     string `yaml:"code,omitempty"`
	Severity string `yaml:"severity,omitempty"`

	// *_count
	Count *int `yaml:"count,omitempty"`
}

// RefSpec names an entity in an assertion.
type RefSpec struct {
	EntityType string   `yaml:"entity_type"`
	Key        []string `yaml:"key"`
}

// Ref converts the spec to an entity ref.
func (r RefSpec) Ref() ir.EntityRef {
	return ir.EntityRef{Type: r.EntityType, Key: ir.NaturalKey(r.Key)}
}

// LoadScenario reads and validates a scenario file.
// Unknown fields are rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.dir = filepath.Dir(path)
	return s, nil
}

// ParseScenario decodes and validates scenario YAML. Relative paths in
// the result resolve against the working directory.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if (s.Config == "") == (s.Declarations == nil) {
		return fmt.Errorf("scenario %s: exactly one of config or declarations is required", s.Name)
	}
	if s.CSV != "" && len(s.Records) > 0 {
		return fmt.Errorf("scenario %s: records and csv are mutually exclusive", s.Name)
	}
	if s.Workers < 0 {
		return fmt.Errorf("scenario %s: workers must not be negative", s.Name)
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("scenario %s: at least one assertion is required", s.Name)
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("scenario %s: assertion %d: %w", s.Name, i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	if !slices.Contains(assertionTypes, a.Type) {
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	switch a.Type {
	case AssertEntity:
		if a.EntityType == "" || len(a.Key) == 0 {
			return fmt.Errorf("entity assertion requires entity_type and key")
		}
	case AssertEdge:
		if err := validateState(a.State); err != nil {
			return err
		}
		if a.From == nil || a.To == nil {
			return fmt.Errorf("edge assertion requires from and to")
		}
	case AssertEdgeCount:
		if err := validateState(a.State); err != nil {
			return err
		}
	case AssertRecordError:
		if a.Record == 0 && a.Code == "" {
			return fmt.Errorf("record_error assertion requires record or code")
		}
	}
	switch a.Type {
	case AssertEntityCount, AssertEdgeCount, AssertErrorCount, AssertRejectedCount:
		if a.Count == nil {
			return fmt.Errorf("%s assertion requires count", a.Type)
		}
	}
	return nil
}

func validateState(state string) error {
	switch ir.EdgeState(state) {
	case ir.EdgeResolved, ir.EdgeOrphaned:
		return nil
	default:
		return fmt.Errorf("edge state must be resolved or orphaned, got %q", state)
	}
}

// document returns the scenario's declaration document.
func (s *Scenario) document() (*config.Document, error) {
	if s.Declarations != nil {
		return s.Declarations, nil
	}
	return config.Load(s.resolve(s.Config))
}

// records converts the inline records. A nil cell becomes IRNull.
func (s *Scenario) records() []ir.Record {
	out := make([]ir.Record, len(s.Records))
	for i, fields := range s.Records {
		rec := make(ir.Record, len(fields))
		for k, v := range fields {
			if v == nil {
				rec[k] = ir.IRNull{}
				continue
			}
			rec[k] = ir.IRString(*v)
		}
		out[i] = rec
	}
	return out
}

func (s *Scenario) resolve(path string) string {
	if filepath.IsAbs(path) || s.dir == "" {
		return path
	}
	return filepath.Join(s.dir, path)
}
