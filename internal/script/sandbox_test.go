package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

type mapRow struct {
	values  map[string]string
	numeric map[string]bool
}

func (r mapRow) Value(column string) (string, bool) {
	v, ok := r.values[column]
	return v, ok
}

func (r mapRow) Numeric(column string) bool { return r.numeric[column] }

func testRow() mapRow {
	return mapRow{
		values:  map[string]string{"CHROMOSOME": "chr1", "START": "100", "END": "250", "NAME": "peak_1"},
		numeric: map[string]bool{"START": true, "END": true},
	}
}

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	s, err := NewSandbox(8)
	require.NoError(t, err)
	return s
}

func TestEvaluate(t *testing.T) {
	s := newTestSandbox(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"expression", "value_of('END') - value_of('START')", "150"},
		{"chunk", "local l = value_of('END') - value_of('START')\nreturn l / 4", "37.5"},
		{"string", "return value_of('CHROMOSOME') .. ':' .. value_of('NAME')", "chr1:peak_1"},
		{"math", "math.floor(math.log10(value_of('END') - value_of('START')))", "2"},
		{"string lib", "string.upper(value_of('NAME'))", "PEAK_1"},
		{"boolean", "value_of('START') < 200", "true"},
		{"nil", "return nil", ""},
		{"table lib", "local t = {3, 1, 2}\ntable.sort(t)\nreturn table.concat(t, ',')", "1,2,3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Evaluate(ctx, tt.source, testRow(), DefaultInstructionLimit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInstructionBudget(t *testing.T) {
	s := newTestSandbox(t)
	ctx := context.Background()

	_, err := s.Evaluate(ctx, "while true do end", testRow(), 1000)
	require.Error(t, err)
	assert.True(t, ir.IsCode(err, ir.CodeInstructionBudgetExceeded), err.Error())

	p, err := s.Compile("local n = 0\nfor i = 1, 50 do n = n + i end\nreturn n")
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Evaluate(ctx, testRow(), 20)
	assert.True(t, ir.IsCode(err, ir.CodeInstructionBudgetExceeded))

	// The budget is per evaluation; the program stays usable.
	got, err := p.Evaluate(ctx, testRow(), 10_000)
	require.NoError(t, err)
	assert.Equal(t, "1275", got)
}

func TestCanceledContextStopsScript(t *testing.T) {
	s := newTestSandbox(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Evaluate(ctx, "while true do end", testRow(), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseErrorPosition(t *testing.T) {
	s := newTestSandbox(t)

	_, err := s.Compile("local x = 1\nreturn x +* 2")
	require.Error(t, err)
	var e *ir.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ir.CodeScriptParseError, e.Code)
	assert.True(t, e.HasPosition)
	assert.Equal(t, 2, e.Line)
	assert.Contains(t, e.Message, "line 2")

	_, err = s.Compile("   ")
	assert.True(t, ir.IsCode(err, ir.CodeScriptParseError))
}

func TestSandboxRemovesUnsafeGlobals(t *testing.T) {
	s := newTestSandbox(t)
	ctx := context.Background()

	for _, name := range []string{"dofile", "loadstring", "require", "print", "os", "io", "debug", "coroutine"} {
		got, err := s.Evaluate(ctx, "type("+name+")", testRow(), DefaultInstructionLimit)
		require.NoError(t, err, name)
		assert.Equal(t, "nil", got, name)
	}

	_, err := s.Evaluate(ctx, "os.exit(1)", testRow(), DefaultInstructionLimit)
	assert.True(t, ir.IsCode(err, ir.CodeScriptRuntimeError))
}

func TestRuntimeErrors(t *testing.T) {
	s := newTestSandbox(t)
	ctx := context.Background()

	_, err := s.Evaluate(ctx, "value_of('SCORE')", testRow(), DefaultInstructionLimit)
	var e *ir.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ir.CodeUnknownColumn, e.Code)
	assert.Equal(t, "SCORE", e.Token)

	_, err = s.Evaluate(ctx, "local t = nil\nreturn t.x", testRow(), DefaultInstructionLimit)
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ir.CodeScriptRuntimeError, e.Code)

	_, err = s.Evaluate(ctx, "{1, 2}", testRow(), DefaultInstructionLimit)
	assert.True(t, ir.IsCode(err, ir.CodeScriptRuntimeError))
}

func TestCompiledChunksAreCached(t *testing.T) {
	s := newTestSandbox(t)
	p1, err := s.Compile("value_of('START')")
	require.NoError(t, err)
	defer p1.Close()
	p2, err := s.Compile("value_of('START')")
	require.NoError(t, err)
	defer p2.Close()

	assert.Equal(t, 1, s.protos.Len())
	assert.Same(t, p1.(*program).fn.Proto, p2.(*program).fn.Proto)
}
