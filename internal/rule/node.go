// Package rule evaluates declarative JSON condition trees into boolean signal
// series over an OHLCV frame.
//
// A tree is built from operands (constants, raw OHLCV columns, registered
// indicators) combined with comparison, crossover and boolean operators. Any
// comparison touching a NaN (indicator warm-up) yields false rather than
// propagating. Note the knock-on effect: "not" over a warm-up false yields
// true, so negated conditions report true while their indicator is still
// undefined.
package rule

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed reports a node missing required keys.
	ErrMalformed = errors.New("malformed condition node")
	// ErrUnknownOperator reports an operator outside the supported set.
	ErrUnknownOperator = errors.New("unknown operator")
	// ErrFieldRequired reports a multi-output indicator used without a field
	// selector.
	ErrFieldRequired = errors.New("field selector required")
	// ErrUnknownColumn reports a source column absent from the frame.
	ErrUnknownColumn = errors.New("unknown source column")
)

// Node is the wire form of one condition-tree node. The JSON layout is the
// compatibility surface for externally saved rules and must stay stable.
type Node struct {
	Op     string             `json:"op,omitempty"`
	Type   string             `json:"type,omitempty"`
	Name   string             `json:"name,omitempty"`
	Value  *float64           `json:"value,omitempty"`
	Params map[string]float64 `json:"params,omitempty"`
	Field  string             `json:"field,omitempty"`
	Source string             `json:"source,omitempty"`
	Left   *Node              `json:"left,omitempty"`
	Right  *Node              `json:"right,omitempty"`
	Arg    *Node              `json:"arg,omitempty"`
	Args   []*Node            `json:"args,omitempty"`
}

type compareOp int

const (
	opGT compareOp = iota
	opLT
	opGE
	opLE
	opEQ
	opNE
)

var compareOps = map[string]compareOp{
	">": opGT, "<": opLT, ">=": opGE, "<=": opLE, "==": opEQ, "!=": opNE,
}

// Expr is a compiled condition tree. The concrete cases form a closed set;
// evaluation dispatches on type rather than on strings.
type Expr interface {
	eval(ev *evaluator) ([]bool, error)
}

type operand interface {
	resolve(ev *evaluator) ([]float64, error)
}

type constOperand struct {
	value float64
}

type seriesOperand struct {
	name   string
	source string
	field  string
	params map[string]float64
	path   string
}

type compareExpr struct {
	op          compareOp
	left, right operand
}

type crossExpr struct {
	over        bool // crossover when true, crossunder otherwise
	left, right operand
}

type logicExpr struct {
	conj bool // and when true, or otherwise
	args []Expr
}

type notExpr struct {
	arg Expr
}

// leafExpr is a bare operand used as a condition: nonzero and defined means
// true.
type leafExpr struct {
	op operand
}

// Parse decodes a JSON condition tree and compiles it.
func Parse(data []byte) (Expr, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decode rule: %w", err)
	}
	return Compile(&n)
}

// Compile validates the wire tree and lowers it into the closed Expr form.
// Structural problems (missing keys, unknown operators, empty argument lists)
// are reported with the path of the offending node.
func Compile(n *Node) (Expr, error) {
	return compile(n, "$")
}

func compile(n *Node, path string) (Expr, error) {
	if n == nil {
		return nil, fmt.Errorf("at %s: %w: missing node", path, ErrMalformed)
	}
	switch n.Op {
	case "":
		op, err := compileOperand(n, path)
		if err != nil {
			return nil, err
		}
		return leafExpr{op: op}, nil
	case "not":
		arg, err := compile(n.Arg, path+".arg")
		if err != nil {
			if n.Arg == nil {
				return nil, fmt.Errorf("at %s: %w: not requires arg", path, ErrMalformed)
			}
			return nil, err
		}
		return notExpr{arg: arg}, nil
	case "and", "or":
		if len(n.Args) == 0 {
			return nil, fmt.Errorf("at %s: %w: %s requires a non-empty args list", path, ErrMalformed, n.Op)
		}
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			e, err := compile(a, fmt.Sprintf("%s.args[%d]", path, i))
			if err != nil {
				return nil, err
			}
			args[i] = e
		}
		return logicExpr{conj: n.Op == "and", args: args}, nil
	case "crossover", "crossunder":
		left, right, err := compilePair(n, path)
		if err != nil {
			return nil, err
		}
		return crossExpr{over: n.Op == "crossover", left: left, right: right}, nil
	default:
		op, ok := compareOps[n.Op]
		if !ok {
			return nil, fmt.Errorf("at %s: %w: %q", path, ErrUnknownOperator, n.Op)
		}
		left, right, err := compilePair(n, path)
		if err != nil {
			return nil, err
		}
		return compareExpr{op: op, left: left, right: right}, nil
	}
}

func compilePair(n *Node, path string) (operand, operand, error) {
	if n.Left == nil || n.Right == nil {
		return nil, nil, fmt.Errorf("at %s: %w: %s requires left and right", path, ErrMalformed, n.Op)
	}
	left, err := compileOperand(n.Left, path+".left")
	if err != nil {
		return nil, nil, err
	}
	right, err := compileOperand(n.Right, path+".right")
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func compileOperand(n *Node, path string) (operand, error) {
	switch {
	case n.Type == "const":
		if n.Value == nil {
			return nil, fmt.Errorf("at %s: %w: const requires value", path, ErrMalformed)
		}
		return constOperand{value: *n.Value}, nil
	case n.Type == "indicator" || n.Name != "":
		if n.Name == "" {
			return nil, fmt.Errorf("at %s: %w: indicator requires name", path, ErrMalformed)
		}
		source := n.Source
		if source == "" {
			source = "close"
		}
		return seriesOperand{
			name:   n.Name,
			source: source,
			field:  n.Field,
			params: n.Params,
			path:   path,
		}, nil
	default:
		return nil, fmt.Errorf("at %s: %w: expected const, indicator or source operand", path, ErrMalformed)
	}
}
