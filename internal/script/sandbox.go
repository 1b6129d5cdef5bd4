package script

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

// chunkName appears in Lua error messages.
const chunkName = "calculated"

// DefaultInstructionLimit is the per-row budget used when none is configured.
const DefaultInstructionLimit = 100_000

// DefaultCacheSize bounds the number of compiled chunks kept in memory.
const DefaultCacheSize = 128

// Row supplies column values to a running script.
type Row interface {
	// Value returns the text value of a column and whether the column
	// exists for the row.
	Value(column string) (string, bool)
	// Numeric reports whether the column holds numbers. Numeric values are
	// passed to the script as Lua numbers.
	Numeric(column string) bool
}

// Engine compiles and evaluates calculated column scripts.
type Engine interface {
	// Compile checks a script and prepares it for repeated evaluation.
	// Syntax errors are SCRIPT_PARSE_ERROR errors with a script position.
	Compile(source string) (Program, error)

	// Evaluate compiles source and runs it once against row.
	Evaluate(ctx context.Context, source string, row Row, limit int64) (string, error)
}

// Program is a compiled script bound to its own interpreter state.
// A Program is not safe for concurrent use.
type Program interface {
	// Evaluate runs the script against row with a budget of limit
	// instructions (0 disables the budget) and returns its result as text.
	Evaluate(ctx context.Context, row Row, limit int64) (string, error)
	Close()
}

// Sandbox is the Lua implementation of Engine. Compiled chunks are shared
// between programs; interpreter states are not.
type Sandbox struct {
	protos *lru.Cache[string, *lua.FunctionProto]
}

var _ Engine = (*Sandbox)(nil)

// NewSandbox creates a sandbox caching up to cacheSize compiled chunks.
func NewSandbox(cacheSize int) (*Sandbox, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	protos, err := lru.New[string, *lua.FunctionProto](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create chunk cache: %w", err)
	}
	return &Sandbox{protos: protos}, nil
}

// Compile implements Engine.
func (s *Sandbox) Compile(source string) (Program, error) {
	proto, err := s.proto(source)
	if err != nil {
		return nil, err
	}
	return newProgram(proto), nil
}

// Evaluate implements Engine.
func (s *Sandbox) Evaluate(ctx context.Context, source string, row Row, limit int64) (string, error) {
	p, err := s.Compile(source)
	if err != nil {
		return "", err
	}
	defer p.Close()
	return p.Evaluate(ctx, row, limit)
}

func (s *Sandbox) proto(source string) (*lua.FunctionProto, error) {
	if proto, ok := s.protos.Get(source); ok {
		return proto, nil
	}
	proto, err := compile(source)
	if err != nil {
		return nil, err
	}
	s.protos.Add(source, proto)
	return proto, nil
}

// compile accepts either a chunk or a bare expression. A bare expression
// is compiled as "return <expr>"; errors are always reported against the
// source as written.
func compile(source string) (*lua.FunctionProto, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ir.Errorf(ir.CodeScriptParseError, "empty script")
	}
	chunk, err := parse.Parse(strings.NewReader("return "+source), chunkName)
	if err != nil {
		chunk, err = parse.Parse(strings.NewReader(source), chunkName)
	}
	if err != nil {
		return nil, parseError(source, err)
	}
	proto, err := lua.Compile(chunk, chunkName)
	if err != nil {
		return nil, ir.Errorf(ir.CodeScriptParseError, "compile script: %v", err)
	}
	return proto, nil
}

func parseError(source string, err error) error {
	var perr *parse.Error
	if !errors.As(err, &perr) {
		return ir.Errorf(ir.CodeScriptParseError, "parse script: %v", err)
	}
	line, column := perr.Pos.Line, perr.Pos.Column
	if line == parse.EOF {
		line = strings.Count(source, "\n") + 1
		column = 0
	}
	msg := ir.Errorf(ir.CodeScriptParseError, "line %d, column %d: %s", line, column, perr.Message).At(line, column)
	if perr.Token != "" {
		msg.WithToken(perr.Token)
	}
	return msg
}

// program owns one sandboxed Lua state.
type program struct {
	L       *lua.LState
	fn      *lua.LFunction
	budget  budget
	row     Row
	unknown string
}

// Functions of the base library that reach outside the sandbox or break
// isolation between evaluations.
var removedGlobals = []string{
	"dofile", "loadfile", "load", "loadstring", "require", "module", "print",
	"collectgarbage", "setfenv", "getfenv", "rawset", "rawget", "newproxy", "_printregs",
}

func newProgram(proto *lua.FunctionProto) *program {
	L := lua.NewState(lua.Options{SkipOpenLibs: true, CallStackSize: 200})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	if strlib, ok := L.GetGlobal(lua.StringLibName).(*lua.LTable); ok {
		strlib.RawSetString("dump", lua.LNil)
	}

	p := &program{L: L}
	L.SetGlobal("value_of", L.NewFunction(p.valueOf))
	p.fn = L.NewFunctionFromProto(proto)
	return p
}

func (p *program) valueOf(L *lua.LState) int {
	column := L.CheckString(1)
	v, ok := p.row.Value(column)
	if !ok {
		p.unknown = column
		L.RaiseError("unknown column %s", column)
		return 0
	}
	if p.row.Numeric(column) {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			L.Push(lua.LNumber(f))
			return 1
		}
	}
	L.Push(lua.LString(v))
	return 1
}

// Evaluate implements Program.
func (p *program) Evaluate(ctx context.Context, row Row, limit int64) (string, error) {
	p.row = row
	p.unknown = ""
	p.budget.reset(ctx, limit)
	p.L.SetContext(&p.budget)
	defer func() {
		p.L.RemoveContext()
		p.L.SetTop(0)
		p.row = nil
	}()

	p.L.Push(p.fn)
	err := p.L.PCall(0, 1, nil)
	switch {
	case p.budget.exceeded:
		return "", ir.Errorf(ir.CodeInstructionBudgetExceeded,
			"calculated column exceeded the budget of %d instructions", limit)
	case p.budget.canceled:
		return "", ctx.Err()
	case p.unknown != "":
		return "", ir.Errorf(ir.CodeUnknownColumn, "calculated column reads unknown column %s", p.unknown).
			WithToken(p.unknown)
	case err != nil:
		return "", runtimeError(err)
	}
	return toText(p.L.Get(-1))
}

// Close implements Program.
func (p *program) Close() {
	p.L.Close()
}

func runtimeError(err error) error {
	msg := err.Error()
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		msg = apiErr.Object.String()
	}
	e := ir.Errorf(ir.CodeScriptRuntimeError, "%s", msg)
	e.Err = err
	// Messages carry a "calculated:<line>:" prefix.
	if rest, ok := strings.CutPrefix(msg, chunkName+":"); ok {
		if end := strings.IndexByte(rest, ':'); end > 0 {
			if line, err := strconv.Atoi(rest[:end]); err == nil {
				e.At(line, 0)
			}
		}
	}
	return e
}

func toText(v lua.LValue) (string, error) {
	switch val := v.(type) {
	case *lua.LNilType:
		return "", nil
	case lua.LBool:
		return strconv.FormatBool(bool(val)), nil
	case lua.LString:
		return string(val), nil
	case lua.LNumber:
		f := float64(val)
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return strconv.FormatFloat(f, 'g', -1, 64), nil
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return strconv.FormatInt(int64(f), 10), nil
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	default:
		return "", ir.Errorf(ir.CodeScriptRuntimeError, "calculated column returned a %s", v.Type().String())
	}
}
