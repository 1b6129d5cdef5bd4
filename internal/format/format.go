// Package format parses output format strings into column descriptors.
//
// A format is a comma separated list of tokens. A token is a column name
// (matched case-sensitively against the queried rows), a metadata token
// starting with "@", or a calculated column "@CALCULATED(<script>)". Commas
// inside parentheses or quotes do not split tokens.
//
// Parsing is syntactic and happens when a request is submitted. Whether
// the named columns exist is decided by Resolve once the rows being
// formatted are known.
package format

import (
	"slices"
	"strings"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

// Kind distinguishes the three column sources.
type Kind string

const (
	KindRaw        Kind = "raw"
	KindMetadata   Kind = "metadata"
	KindCalculated Kind = "calculated"
)

// Metadata tokens.
const (
	MetaName           = "@NAME"
	MetaEpigeneticMark = "@EPIGENETIC_MARK"
	MetaBiosource      = "@BIOSOURCE"
	MetaSample         = "@SAMPLE_ID"
	MetaTechnique      = "@TECHNIQUE"
	MetaProject        = "@PROJECT"
	MetaID             = "@ID"
	MetaLength         = "@LENGTH"
	MetaSequence       = "@SEQUENCE"
	MetaGeneID         = "@GENE_ID"
	MetaGeneName       = "@GENE_NAME"
	MetaCalculated     = "@CALCULATED"
)

// Columns produced by aggregation. They behave as raw columns.
const (
	AggMin    = "@AGG.MIN"
	AggMax    = "@AGG.MAX"
	AggMedian = "@AGG.MEDIAN"
	AggMean   = "@AGG.MEAN"
	AggVar    = "@AGG.VAR"
	AggSD     = "@AGG.SD"
	AggCount  = "@AGG.COUNT"
	AggSum    = "@AGG.SUM"
)

// AggregateColumns lists the aggregation columns in output order.
var AggregateColumns = []string{AggMin, AggMax, AggMedian, AggMean, AggVar, AggSD, AggCount, AggSum}

// metadataArgs maps each metadata token to whether it takes an argument.
var metadataArgs = map[string]bool{
	MetaName:           false,
	MetaEpigeneticMark: false,
	MetaBiosource:      false,
	MetaSample:         false,
	MetaTechnique:      false,
	MetaProject:        false,
	MetaID:             false,
	MetaLength:         false,
	MetaSequence:       false,
	MetaGeneID:         true,
	MetaGeneName:       true,
	MetaCalculated:     true,
}

// Column describes one output column.
//
// Name is the column name for raw columns and the metadata token (without
// argument) otherwise. Arg holds the gene model of @GENE_ID/@GENE_NAME and
// the script of @CALCULATED. Type is set by Resolve.
type Column struct {
	Token string
	Kind  Kind
	Name  string
	Arg   string
	Type  ir.ColumnType
}

// Parse splits a format string and classifies its tokens. An empty format
// selects ir.DefaultFormat. Errors are INVALID_ARGUMENTS naming the
// offending token.
func Parse(format string) ([]Column, error) {
	if strings.TrimSpace(format) == "" {
		format = ir.DefaultFormat
	}
	tokens, err := Split(format)
	if err != nil {
		return nil, err
	}
	cols := make([]Column, 0, len(tokens))
	for _, tok := range tokens {
		c, err := parseToken(tok)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// Split returns the trimmed tokens of a format string.
func Split(format string) ([]string, error) {
	var (
		tokens []string
		start  int
		depth  int
		quote  byte
	)
	for i := 0; i < len(format); i++ {
		c := format[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, invalidToken(format[start:i+1], "unbalanced parenthesis")
			}
		case ',':
			if depth == 0 {
				tokens = append(tokens, strings.TrimSpace(format[start:i]))
				start = i + 1
			}
		}
	}
	last := strings.TrimSpace(format[start:])
	switch {
	case quote != 0:
		return nil, invalidToken(last, "unterminated quote")
	case depth != 0:
		return nil, invalidToken(last, "unbalanced parenthesis")
	}
	tokens = append(tokens, last)
	for i, tok := range tokens {
		if tok == "" {
			return nil, ir.Errorf(ir.CodeInvalidArguments, "format: empty column at position %d", i).WithToken(tok)
		}
	}
	return tokens, nil
}

func parseToken(tok string) (Column, error) {
	if !strings.HasPrefix(tok, "@") {
		if strings.ContainsAny(tok, "()'\"") {
			return Column{}, invalidToken(tok, "malformed column name")
		}
		return Column{Token: tok, Kind: KindRaw, Name: tok}, nil
	}
	if slices.Contains(AggregateColumns, tok) {
		return Column{Token: tok, Kind: KindRaw, Name: tok}, nil
	}

	name, arg, hasArg := tok, "", false
	if open := strings.IndexByte(tok, '('); open >= 0 {
		if !strings.HasSuffix(tok, ")") {
			return Column{}, invalidToken(tok, "text after closing parenthesis")
		}
		name, arg, hasArg = strings.TrimSpace(tok[:open]), strings.TrimSpace(tok[open+1:len(tok)-1]), true
	}
	takesArg, known := metadataArgs[name]
	switch {
	case !known:
		return Column{}, invalidToken(tok, "unknown metadata column")
	case takesArg && !hasArg:
		return Column{}, invalidToken(tok, "missing argument")
	case takesArg && arg == "":
		return Column{}, invalidToken(tok, "empty argument")
	case !takesArg && hasArg:
		return Column{}, invalidToken(tok, "takes no argument")
	}
	kind := KindMetadata
	if name == MetaCalculated {
		kind = KindCalculated
	} else {
		arg = unquote(arg)
	}
	return Column{Token: tok, Kind: kind, Name: name, Arg: arg}, nil
}

// unquote strips one pair of matching quotes around a gene model name.
func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func invalidToken(tok, reason string) *ir.Error {
	return ir.Errorf(ir.CodeInvalidArguments, "format: %s in %q", reason, tok).WithToken(tok)
}

// Resolve checks parsed columns against the columns available in the
// formatted rows and fills in their types. A raw column missing from
// available is an UNKNOWN_COLUMN error.
func Resolve(cols []Column, available []ir.ColumnType) ([]Column, error) {
	out := make([]Column, len(cols))
	for i, c := range cols {
		switch c.Kind {
		case KindRaw:
			idx := slices.IndexFunc(available, func(t ir.ColumnType) bool { return t.Name == c.Name })
			if idx < 0 {
				return nil, ir.Errorf(ir.CodeUnknownColumn, "column %s is not defined for the queried regions", c.Name).
					WithToken(c.Token)
			}
			c.Type = available[idx]
		case KindMetadata:
			c.Type = MetadataType(c.Name)
		case KindCalculated:
			c.Type = ir.ColumnType{Name: c.Token, Kind: ir.KindCalculated, Script: c.Arg}
		}
		out[i] = c
	}
	return out, nil
}

// MetadataType returns the type of a metadata column.
func MetadataType(name string) ir.ColumnType {
	if name == MetaLength {
		return ir.ColumnType{Name: name, Kind: ir.KindSimple, ValueType: ir.ValueInteger}
	}
	return ir.ColumnType{Name: name, Kind: ir.KindSimple, ValueType: ir.ValueString}
}

// Header returns the column tokens in order.
func Header(cols []Column) []string {
	h := make([]string, len(cols))
	for i, c := range cols {
		h[i] = c.Token
	}
	return h
}
