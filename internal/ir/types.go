package ir

import (
	"fmt"
	"strings"
)

// Physical base columns. Every region row carries them and every format
// string may reference them.
const (
	ColumnChromosome = "CHROMOSOME"
	ColumnStart      = "START"
	ColumnEnd        = "END"
	ColumnStrand     = "STRAND"
)

// BaseColumns lists the physical columns present in every row, in order.
var BaseColumns = []string{ColumnChromosome, ColumnStart, ColumnEnd}

// DefaultFormat is the format used when a caller does not supply one.
const DefaultFormat = "CHROMOSOME,START,END"

// ValueType is the scalar type of a column value.
type ValueType string

const (
	ValueString  ValueType = "string"
	ValueInteger ValueType = "integer"
	ValueDouble  ValueType = "double"
)

// Numeric reports whether values of this type compare numerically.
func (v ValueType) Numeric() bool {
	return v == ValueInteger || v == ValueDouble
}

// Valid reports whether v is one of the known value types.
func (v ValueType) Valid() bool {
	switch v {
	case ValueString, ValueInteger, ValueDouble:
		return true
	}
	return false
}

// ColumnKind classifies a column type definition.
type ColumnKind string

const (
	KindSimple     ColumnKind = "simple"
	KindCategory   ColumnKind = "category"
	KindRange      ColumnKind = "range"
	KindCalculated ColumnKind = "calculated"
)

// ColumnType is a named column definition from the column type registry.
//
// Calculated columns carry a script and have no static value type; all other
// kinds have one. Category columns restrict values to Allowed, range columns
// restrict numeric values to [Min, Max].
type ColumnType struct {
	Name      string     `json:"name"`
	Kind      ColumnKind `json:"kind"`
	ValueType ValueType  `json:"value_type,omitempty"`
	Allowed   []string   `json:"allowed,omitempty"`
	Min       float64    `json:"min,omitempty"`
	Max       float64    `json:"max,omitempty"`
	Script    string     `json:"script,omitempty"`
}

// Validate checks the structural consistency of a column definition.
func (c ColumnType) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("column type: name is required")
	}
	switch c.Kind {
	case KindSimple:
		if !c.ValueType.Valid() {
			return fmt.Errorf("column %s: invalid value type %q", c.Name, c.ValueType)
		}
	case KindCategory:
		if len(c.Allowed) == 0 {
			return fmt.Errorf("column %s: category needs at least one allowed value", c.Name)
		}
		if c.ValueType != ValueString {
			return fmt.Errorf("column %s: category columns are strings", c.Name)
		}
	case KindRange:
		if !c.ValueType.Numeric() {
			return fmt.Errorf("column %s: range columns must be numeric", c.Name)
		}
		if c.Min > c.Max {
			return fmt.Errorf("column %s: min %v greater than max %v", c.Name, c.Min, c.Max)
		}
	case KindCalculated:
		if strings.TrimSpace(c.Script) == "" {
			return fmt.Errorf("column %s: calculated column needs a script", c.Name)
		}
	default:
		return fmt.Errorf("column %s: unknown kind %q", c.Name, c.Kind)
	}
	return nil
}

// Chromosome is a named sequence of a genome assembly.
type Chromosome struct {
	Name   string `json:"name"`
	Length int64  `json:"length"`
}

// Genome is a reference assembly.
type Genome struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Chromosomes []Chromosome `json:"chromosomes"`
}

// Length returns the length of the named chromosome.
func (g Genome) Length(chrom string) (int64, bool) {
	for _, c := range g.Chromosomes {
		if c.Name == chrom {
			return c.Length, true
		}
	}
	return 0, false
}

// DatasetKind distinguishes the kinds of region collections.
type DatasetKind string

const (
	DatasetExperiment DatasetKind = "experiment"
	DatasetAnnotation DatasetKind = "annotation"
	DatasetGeneModel  DatasetKind = "gene_model"
	DatasetExpression DatasetKind = "expression"
)

// Valid reports whether k is a known dataset kind.
func (k DatasetKind) Valid() bool {
	switch k {
	case DatasetExperiment, DatasetAnnotation, DatasetGeneModel, DatasetExpression:
		return true
	}
	return false
}

// IDPrefix returns the prefix used for dataset identifiers of this kind.
func (k DatasetKind) IDPrefix() string {
	switch k {
	case DatasetAnnotation:
		return "a"
	case DatasetGeneModel:
		return "gs"
	case DatasetExpression:
		return "gx"
	default:
		return "e"
	}
}

// Dataset describes an immutable collection of regions with provenance.
// Columns lists the dataset's columns in order, including the three base
// columns.
type Dataset struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Kind           DatasetKind  `json:"kind"`
	Genome         string       `json:"genome"`
	EpigeneticMark string       `json:"epigenetic_mark,omitempty"`
	Biosource      string       `json:"biosource,omitempty"`
	Sample         string       `json:"sample,omitempty"`
	Technique      string       `json:"technique,omitempty"`
	Project        string       `json:"project,omitempty"`
	Description    string       `json:"description,omitempty"`
	Columns        []ColumnType `json:"columns"`
}

// Column returns the dataset's definition of the named column.
func (d Dataset) Column(name string) (ColumnType, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnType{}, false
}

// TermKind names a controlled vocabulary used in dataset metadata.
type TermKind string

const (
	TermEpigeneticMark TermKind = "epigenetic_mark"
	TermBiosource      TermKind = "biosource"
	TermSample         TermKind = "sample"
	TermTechnique      TermKind = "technique"
	TermProject        TermKind = "project"
)

// TermKinds lists every vocabulary kind in a stable order.
var TermKinds = []TermKind{TermEpigeneticMark, TermBiosource, TermSample, TermTechnique, TermProject}

// Caller identifies who issues an operation. Authentication happens outside
// the engine; the caller is trusted as given.
type Caller struct {
	UserID string `json:"user_id"`
}

// RequestState is the lifecycle state of a materialization request.
type RequestState string

const (
	StateNew      RequestState = "new"
	StateRunning  RequestState = "running"
	StateDone     RequestState = "done"
	StateFailed   RequestState = "failed"
	StateCanceled RequestState = "canceled"
	StateRemoved  RequestState = "removed"
)

// Terminal reports whether no further work happens for a request in state s.
func (s RequestState) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StateCanceled, StateRemoved:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s RequestState) Valid() bool {
	switch s {
	case StateNew, StateRunning, StateDone, StateFailed, StateCanceled, StateRemoved:
		return true
	}
	return false
}
