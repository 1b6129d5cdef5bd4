// Package coltype implements the column type registry: typed lookup of
// column definitions, value validation, and the compatibility rules used
// when a dataset is cloned under a new column list.
package coltype

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

// Lookup resolves a column type by name. Implemented by *store.Store.
type Lookup interface {
	ColumnType(ctx context.Context, name string) (ir.ColumnType, error)
}

// DefaultCacheSize bounds the number of definitions kept in memory.
const DefaultCacheSize = 256

// Registry is a read-through cache over the stored column definitions.
// Definitions are immutable once registered, so entries never go stale.
type Registry struct {
	lookup Lookup
	cache  *lru.Cache[string, ir.ColumnType]
}

// New creates a registry backed by lookup.
func New(lookup Lookup) *Registry {
	cache, err := lru.New[string, ir.ColumnType](DefaultCacheSize)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &Registry{lookup: lookup, cache: cache}
}

// Get returns the definition of a column name.
func (r *Registry) Get(ctx context.Context, name string) (ir.ColumnType, error) {
	if c, ok := r.cache.Get(name); ok {
		return c, nil
	}
	c, err := r.lookup.ColumnType(ctx, name)
	if err != nil {
		return ir.ColumnType{}, err
	}
	r.cache.Add(name, c)
	return c, nil
}

// ValidateValue checks that a text value conforms to a column definition.
// Empty values are accepted for every type.
func ValidateValue(c ir.ColumnType, value string) error {
	if value == "" {
		return nil
	}
	switch c.Kind {
	case ir.KindCalculated:
		return ir.Errorf(ir.CodeTypeIncompatible, "column %s is calculated and cannot hold stored values", c.Name).
			WithToken(c.Name)
	case ir.KindCategory:
		if !slices.Contains(c.Allowed, value) {
			return ir.Errorf(ir.CodeTypeIncompatible, "value %q is not allowed for column %s (allowed: %v)", value, c.Name, c.Allowed).
				WithToken(value)
		}
		return nil
	}
	switch c.ValueType {
	case ir.ValueInteger:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return ir.Errorf(ir.CodeTypeIncompatible, "value %q of column %s is not an integer", value, c.Name).WithToken(value)
		}
		return checkRange(c, float64(n), value)
	case ir.ValueDouble:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return ir.Errorf(ir.CodeTypeIncompatible, "value %q of column %s is not a number", value, c.Name).WithToken(value)
		}
		return checkRange(c, f, value)
	}
	return nil
}

func checkRange(c ir.ColumnType, f float64, value string) error {
	if c.Kind != ir.KindRange {
		return nil
	}
	if f < c.Min || f > c.Max {
		return ir.Errorf(ir.CodeTypeIncompatible, "value %s of column %s is outside [%v, %v]", value, c.Name, c.Min, c.Max).
			WithToken(value)
	}
	return nil
}

// Compatible reports whether src may be re-labelled as dst when cloning.
// The value types must match exactly. Simple columns only take simple
// columns, categories take narrower categories and ranges take ranges
// that fit inside them.
func Compatible(src, dst ir.ColumnType) error {
	incompatible := func(reason string) error {
		return ir.Errorf(ir.CodeTypeIncompatible, "column %s cannot be cloned as %s: %s", src.Name, dst.Name, reason).
			WithToken(dst.Name)
	}
	if dst.Kind == ir.KindCalculated {
		return incompatible("calculated columns have no stored values")
	}
	if src.Name == dst.Name {
		return nil
	}
	if src.Kind == ir.KindCalculated {
		return incompatible("calculated columns have no stored values")
	}

	if src.ValueType != dst.ValueType {
		return incompatible(fmt.Sprintf("value type %s does not match %s", src.ValueType, dst.ValueType))
	}

	switch dst.Kind {
	case ir.KindSimple:
		if src.Kind != ir.KindSimple {
			return incompatible(fmt.Sprintf("%s column is not a simple column", src.Kind))
		}
		return nil
	case ir.KindCategory:
		if src.Kind != ir.KindCategory {
			return incompatible("source is not a category")
		}
		for _, v := range src.Allowed {
			if !slices.Contains(dst.Allowed, v) {
				return incompatible(fmt.Sprintf("category value %q is not allowed", v))
			}
		}
		return nil
	case ir.KindRange:
		if src.Kind != ir.KindRange {
			return incompatible("source values are unbounded")
		}
		if src.Min < dst.Min || src.Max > dst.Max {
			return incompatible(fmt.Sprintf("range [%v, %v] exceeds [%v, %v]", src.Min, src.Max, dst.Min, dst.Max))
		}
		return nil
	}
	return incompatible("unknown column kind")
}

// CheckClone resolves the target column names of a clone of source and
// validates them position by position. The base columns must stay in
// place.
func (r *Registry) CheckClone(ctx context.Context, source ir.Dataset, target []string) ([]ir.ColumnType, error) {
	if len(target) != len(source.Columns) {
		return nil, ir.Errorf(ir.CodeInvalidArguments,
			"clone of %s needs %d columns, got %d", source.Name, len(source.Columns), len(target))
	}
	out := make([]ir.ColumnType, len(target))
	for i, name := range target {
		if i < len(ir.BaseColumns) && name != ir.BaseColumns[i] {
			return nil, ir.Errorf(ir.CodeInvalidArguments, "column %d must be %s, got %s", i, ir.BaseColumns[i], name).
				WithToken(name)
		}
		dst, err := r.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		if err := Compatible(source.Columns[i], dst); err != nil {
			return nil, err
		}
		out[i] = dst
	}
	return out, nil
}
