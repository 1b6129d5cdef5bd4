package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

func TestParse(t *testing.T) {
	cols, err := Parse("CHROMOSOME, START,END,@NAME,@LENGTH,@GENE_NAME('gencode v19'),@CALCULATED(return string.format('%s,%d', value_of('CHROMOSOME'), 1)),@AGG.MEAN")
	require.NoError(t, err)
	require.Len(t, cols, 8)

	assert.Equal(t, Column{Token: "START", Kind: KindRaw, Name: "START"}, cols[1])
	assert.Equal(t, KindMetadata, cols[3].Kind)
	assert.Equal(t, MetaGeneName, cols[5].Name)
	assert.Equal(t, "gencode v19", cols[5].Arg)
	assert.Equal(t, KindCalculated, cols[6].Kind)
	assert.Equal(t, "return string.format('%s,%d', value_of('CHROMOSOME'), 1)", cols[6].Arg)
	assert.Equal(t, KindRaw, cols[7].Kind)
}

func TestParseDefault(t *testing.T) {
	cols, err := Parse("  ")
	require.NoError(t, err)
	assert.Equal(t, []string{"CHROMOSOME", "START", "END"}, Header(cols))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		format string
		token  string
	}{
		{"CHROMOSOME,,END", ""},
		{"CHROMOSOME,START,", ""},
		{"@NAME,@FOO", "@FOO"},
		{"@GENE_ID()", "@GENE_ID()"},
		{"@GENE_ID", "@GENE_ID"},
		{"@NAME(x)", "@NAME(x)"},
		{"@CALCULATED(return 1", "@CALCULATED(return 1"},
		{"START)", "START)"},
		{"@CALCULATED(return 1)x", "@CALCULATED(return 1)x"},
		{"NAME('x", "NAME('x"},
		{"@AGG.MODE", "@AGG.MODE"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			_, err := Parse(tt.format)
			require.Error(t, err)
			var e *ir.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, ir.CodeInvalidArguments, e.Code)
			assert.Equal(t, tt.token, e.Token)
		})
	}
}

func TestResolve(t *testing.T) {
	available := []ir.ColumnType{
		{Name: "CHROMOSOME", Kind: ir.KindSimple, ValueType: ir.ValueString},
		{Name: "START", Kind: ir.KindSimple, ValueType: ir.ValueInteger},
		{Name: "END", Kind: ir.KindSimple, ValueType: ir.ValueInteger},
		{Name: "SCORE", Kind: ir.KindSimple, ValueType: ir.ValueDouble},
	}

	cols, err := Parse("END,SCORE,@LENGTH,@CALCULATED(value_of('SCORE') * 2)")
	require.NoError(t, err)
	resolved, err := Resolve(cols, available)
	require.NoError(t, err)
	assert.Equal(t, ir.ValueInteger, resolved[0].Type.ValueType)
	assert.Equal(t, ir.ValueDouble, resolved[1].Type.ValueType)
	assert.Equal(t, ir.ValueInteger, resolved[2].Type.ValueType)
	assert.Equal(t, ir.KindCalculated, resolved[3].Type.Kind)

	cols, err = Parse("CHROMOSOME,score")
	require.NoError(t, err)
	_, err = Resolve(cols, available)
	var e *ir.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ir.CodeUnknownColumn, e.Code)
	assert.Equal(t, "score", e.Token)
}
