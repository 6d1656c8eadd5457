package compiler

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/entmap/internal/coerce"
	"github.com/roach88/entmap/internal/ir"
)

// DefaultDecimalPrecision applies to decimal transforms declaring none.
const DefaultDecimalPrecision = 2

// Step is one compiled transform. Steps pass null and empty values through
// unchanged; the mapper decides what a missing value means.
type Step struct {
	ir.Transform

	re *regexp.Regexp // extract_pattern
}

// CompileTransform validates a transform declaration.
func CompileTransform(t ir.Transform) (Step, error) {
	s := Step{Transform: t}
	switch t.Kind {
	case ir.TransformTrim, ir.TransformUppercase, ir.TransformLowercase,
		ir.TransformCaseFold, ir.TransformInteger:

	case ir.TransformDecimal:
		if t.Precision < 0 {
			return Step{}, fmt.Errorf("decimal: negative precision %d", t.Precision)
		}
		if s.Precision == 0 {
			s.Precision = DefaultDecimalPrecision
		}

	case ir.TransformDate:
		if len(s.Formats) == 0 {
			s.Formats = coerce.DefaultDateFormats
		}
		if s.Layout == "" {
			s.Layout = coerce.DefaultDateLayout
		}

	case ir.TransformExtractPattern:
		if t.Pattern == "" {
			return Step{}, fmt.Errorf("extract_pattern: pattern is required")
		}
		re, err := regexp.Compile(t.Pattern)
		if err != nil {
			return Step{}, fmt.Errorf("extract_pattern: %w", err)
		}
		if t.Group < 0 || t.Group > re.NumSubexp() {
			return Step{}, fmt.Errorf("extract_pattern: group %d out of range (pattern has %d)", t.Group, re.NumSubexp())
		}
		s.re = re

	case ir.TransformMapValues:
		if len(t.Values) == 0 && t.Default == nil {
			return Step{}, fmt.Errorf("map_values: values are required")
		}

	default:
		return Step{}, fmt.Errorf("%w %q", errUnknownTransform, t.Kind)
	}
	return s, nil
}

var errUnknownTransform = errors.New("unknown transform")

// Apply runs the step on v.
func (s Step) Apply(v ir.IRValue) (ir.IRValue, error) {
	if ir.IsEmpty(v) {
		return v, nil
	}
	text := ir.Text(v)

	switch s.Kind {
	case ir.TransformTrim:
		if str, ok := v.(ir.IRString); ok {
			return ir.IRString(strings.TrimSpace(string(str))), nil
		}
		return v, nil
	case ir.TransformUppercase:
		return mapString(v, coerce.Upper), nil
	case ir.TransformLowercase:
		return mapString(v, coerce.Lower), nil
	case ir.TransformCaseFold:
		return mapString(v, coerce.Fold), nil
	case ir.TransformDecimal:
		d, err := coerce.FixedDecimal(text, s.Precision)
		if err != nil {
			return nil, fmt.Errorf("decimal: %w", err)
		}
		return d, nil
	case ir.TransformInteger:
		n, err := coerce.Integer(text)
		if err != nil {
			return nil, fmt.Errorf("integer: %w", err)
		}
		return ir.IRInt(n), nil
	case ir.TransformDate:
		t, err := coerce.Date(text, s.Formats)
		if err != nil {
			return nil, fmt.Errorf("date: %w", err)
		}
		return ir.IRString(t.Format(s.Layout)), nil
	case ir.TransformExtractPattern:
		m := s.re.FindStringSubmatch(text)
		if m == nil {
			return nil, fmt.Errorf("extract_pattern: %q does not match %s", text, s.re)
		}
		return ir.IRString(m[s.Group]), nil
	case ir.TransformMapValues:
		if out, ok := s.Values[text]; ok {
			return ir.IRString(out), nil
		}
		if s.Default != nil {
			return ir.IRString(*s.Default), nil
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w %q", errUnknownTransform, s.Kind)
	}
}

// DateKey identifies the inputs of a date step, for caching its results.
func (s Step) DateKey(text string) string {
	return strings.Join(s.Formats, "|") + "\x00" + s.Layout + "\x00" + text
}

func mapString(v ir.IRValue, f func(string) string) ir.IRValue {
	if str, ok := v.(ir.IRString); ok {
		return ir.IRString(f(string(str)))
	}
	return v
}

// Chain is an ordered list of steps.
type Chain []Step

// Apply runs every step in order, stopping at the first error.
func (c Chain) Apply(v ir.IRValue) (ir.IRValue, error) {
	var err error
	for _, s := range c {
		if v, err = s.Apply(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}
