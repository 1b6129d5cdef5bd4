package coltype

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

var (
	chromCol = ir.ColumnType{Name: ir.ColumnChromosome, Kind: ir.KindSimple, ValueType: ir.ValueString}
	startCol = ir.ColumnType{Name: ir.ColumnStart, Kind: ir.KindSimple, ValueType: ir.ValueInteger}
	endCol   = ir.ColumnType{Name: ir.ColumnEnd, Kind: ir.KindSimple, ValueType: ir.ValueInteger}
	nameCol  = ir.ColumnType{Name: "NAME", Kind: ir.KindSimple, ValueType: ir.ValueString}
	scoreCol = ir.ColumnType{Name: "SCORE", Kind: ir.KindSimple, ValueType: ir.ValueDouble}
	countCol = ir.ColumnType{Name: "COUNT", Kind: ir.KindSimple, ValueType: ir.ValueInteger}
	valueCol = ir.ColumnType{Name: "VALUE", Kind: ir.KindSimple, ValueType: ir.ValueDouble}
	strand   = ir.ColumnType{Name: "STRAND", Kind: ir.KindCategory, ValueType: ir.ValueString, Allowed: []string{"+", "-"}}
	strand3  = ir.ColumnType{Name: "STRAND3", Kind: ir.KindCategory, ValueType: ir.ValueString, Allowed: []string{"+", "-", "."}}
	signal   = ir.ColumnType{Name: "SIGNAL", Kind: ir.KindRange, ValueType: ir.ValueDouble, Min: 0, Max: 100}
	wide     = ir.ColumnType{Name: "WIDE", Kind: ir.KindRange, ValueType: ir.ValueDouble, Min: -10, Max: 1000}
	calc     = ir.ColumnType{Name: "LEN", Kind: ir.KindCalculated, Script: "return 1"}
)

type mapLookup struct {
	cols  map[string]ir.ColumnType
	calls int
}

func (m *mapLookup) ColumnType(_ context.Context, name string) (ir.ColumnType, error) {
	m.calls++
	c, ok := m.cols[name]
	if !ok {
		return ir.ColumnType{}, ir.Errorf(ir.CodeUnknownColumn, "column type %q not found", name)
	}
	return c, nil
}

func newLookup() *mapLookup {
	m := &mapLookup{cols: map[string]ir.ColumnType{}}
	for _, c := range []ir.ColumnType{chromCol, startCol, endCol, nameCol, scoreCol, countCol, strand, strand3, signal, wide, calc} {
		m.cols[c.Name] = c
	}
	return m
}

func TestGetCaches(t *testing.T) {
	lookup := newLookup()
	r := New(lookup)
	ctx := context.Background()

	c, err := r.Get(ctx, "SCORE")
	require.NoError(t, err)
	assert.Equal(t, scoreCol, c)
	_, err = r.Get(ctx, "SCORE")
	require.NoError(t, err)
	assert.Equal(t, 1, lookup.calls)

	_, err = r.Get(ctx, "MISSING")
	assert.True(t, ir.IsCode(err, ir.CodeUnknownColumn))
}

func TestValidateValue(t *testing.T) {
	tests := []struct {
		col   ir.ColumnType
		value string
		ok    bool
	}{
		{countCol, "12", true},
		{countCol, "1.5", false},
		{scoreCol, "1.5e3", true},
		{scoreCol, "abc", false},
		{strand, "-", true},
		{strand, ".", false},
		{signal, "50", true},
		{signal, "150", false},
		{nameCol, "anything", true},
		{scoreCol, "", true},
		{calc, "1", false},
	}
	for _, tt := range tests {
		err := ValidateValue(tt.col, tt.value)
		if tt.ok {
			assert.NoError(t, err, "%s=%q", tt.col.Name, tt.value)
		} else {
			assert.True(t, ir.IsCode(err, ir.CodeTypeIncompatible), "%s=%q", tt.col.Name, tt.value)
		}
	}
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		name string
		src  ir.ColumnType
		dst  ir.ColumnType
		ok   bool
	}{
		{"same column", scoreCol, scoreCol, true},
		{"double to double", valueCol, scoreCol, true},
		{"double to string", scoreCol, nameCol, false},
		{"integer to string", countCol, nameCol, false},
		{"category to string", strand, nameCol, false},
		{"integer to double", countCol, scoreCol, false},
		{"double to integer", scoreCol, countCol, false},
		{"string to double", nameCol, scoreCol, false},
		{"category subset", strand, strand3, true},
		{"category superset", strand3, strand, false},
		{"string to category", nameCol, strand, false},
		{"narrow range into wide", signal, wide, true},
		{"wide range into narrow", wide, signal, false},
		{"unbounded into range", scoreCol, signal, false},
		{"range into double", signal, scoreCol, false},
		{"integer range into double range", ir.ColumnType{Name: "RANK", Kind: ir.KindRange, ValueType: ir.ValueInteger, Min: 0, Max: 10}, wide, false},
		{"into calculated", scoreCol, calc, false},
		{"calculated into same", calc, calc, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Compatible(tt.src, tt.dst)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, ir.IsCode(err, ir.CodeTypeIncompatible), "got %v", err)
			}
		})
	}
}

func TestCheckClone(t *testing.T) {
	r := New(newLookup())
	ctx := context.Background()
	source := ir.Dataset{Name: "peaks", Columns: []ir.ColumnType{chromCol, startCol, endCol, valueCol, strand}}

	cols, err := r.CheckClone(ctx, source, []string{"CHROMOSOME", "START", "END", "SCORE", "STRAND3"})
	require.NoError(t, err)
	assert.Equal(t, []ir.ColumnType{chromCol, startCol, endCol, scoreCol, strand3}, cols)

	_, err = r.CheckClone(ctx, source, []string{"CHROMOSOME", "START", "END", "SCORE"})
	assert.True(t, ir.IsCode(err, ir.CodeInvalidArguments))

	_, err = r.CheckClone(ctx, source, []string{"START", "CHROMOSOME", "END", "SCORE", "STRAND"})
	assert.True(t, ir.IsCode(err, ir.CodeInvalidArguments))

	_, err = r.CheckClone(ctx, source, []string{"CHROMOSOME", "START", "END", "COUNT", "STRAND"})
	assert.True(t, ir.IsCode(err, ir.CodeTypeIncompatible))

	_, err = r.CheckClone(ctx, source, []string{"CHROMOSOME", "START", "END", "LEN", "STRAND"})
	assert.True(t, ir.IsCode(err, ir.CodeTypeIncompatible))

	_, err = r.CheckClone(ctx, source, []string{"CHROMOSOME", "START", "END", "NOPE", "STRAND"})
	assert.True(t, ir.IsCode(err, ir.CodeUnknownColumn))
}
