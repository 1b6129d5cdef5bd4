package ir

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodes(t *testing.T) {
	err := Errorf(CodeUnknownColumn, "column %q not found", "FOO").WithToken("FOO")
	wrapped := fmt.Errorf("materialize: %w", err)

	assert.True(t, IsCode(wrapped, CodeUnknownColumn))
	assert.False(t, IsCode(wrapped, CodeTypeIncompatible))
	assert.Equal(t, CodeUnknownColumn, CodeOf(wrapped))
	assert.Equal(t, 201, CodeUnknownColumn.Number())
	assert.Equal(t, "FOO", err.Token)
	assert.Equal(t, `UNKNOWN_COLUMN: column "FOO" not found`, err.Error())
}

func TestErrorPosition(t *testing.T) {
	err := Errorf(CodeOutOfRangeRegion, "invalid end value").At(0, 0)
	assert.True(t, err.HasPosition)
	assert.Equal(t, 0, err.Line)
}

func TestAsErrorKeepsCause(t *testing.T) {
	e := AsError(context.Canceled)
	assert.Equal(t, CodeInternal, e.Code)
	assert.True(t, errors.Is(e, context.Canceled))

	orig := Errorf(CodeRequestRemoved, "gone")
	assert.Same(t, orig, AsError(fmt.Errorf("wrap: %w", orig)))
}

func TestCauseFindsInnermost(t *testing.T) {
	inner := Errorf(CodeOutOfRangeRegion, "bad end").At(0, 2)
	outer := &Error{Code: CodeRequestFailed, Message: "failed", Err: fmt.Errorf("eval: %w", inner)}

	assert.Same(t, inner, Cause(outer))
	assert.Same(t, inner, Cause(inner))
	assert.Nil(t, Cause(errors.New("plain")))
	assert.Nil(t, Cause(nil))
}

func TestRequestStateTerminal(t *testing.T) {
	assert.False(t, StateNew.Terminal())
	assert.False(t, StateRunning.Terminal())
	for _, s := range []RequestState{StateDone, StateFailed, StateCanceled, StateRemoved} {
		assert.True(t, s.Terminal(), s)
	}
}

func TestColumnTypeValidate(t *testing.T) {
	valid := []ColumnType{
		{Name: "SCORE", Kind: KindSimple, ValueType: ValueDouble},
		{Name: "STRAND", Kind: KindCategory, ValueType: ValueString, Allowed: []string{"+", "-", "."}},
		{Name: "SIGNAL", Kind: KindRange, ValueType: ValueDouble, Min: 0, Max: 1000},
		{Name: "LEN", Kind: KindCalculated, Script: "return value_of('END') - value_of('START')"},
	}
	for _, c := range valid {
		assert.NoError(t, c.Validate(), c.Name)
	}

	invalid := []ColumnType{
		{Kind: KindSimple, ValueType: ValueDouble},
		{Name: "X", Kind: KindSimple, ValueType: "float"},
		{Name: "X", Kind: KindCategory, ValueType: ValueString},
		{Name: "X", Kind: KindRange, ValueType: ValueString},
		{Name: "X", Kind: KindRange, ValueType: ValueInteger, Min: 5, Max: 1},
		{Name: "X", Kind: KindCalculated},
		{Name: "X", Kind: "other"},
	}
	for _, c := range invalid {
		assert.Error(t, c.Validate())
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "h3k4me3", NormalizeName("H3K4me3"))
	assert.Equal(t, NormalizeName("H3K4me3"), NormalizeName(" h3k4_ME3 "))
	assert.Equal(t, NormalizeName("GRCh38"), NormalizeName("grch-38"))
	assert.NotEqual(t, NormalizeName("K562"), NormalizeName("K5620"))
}
