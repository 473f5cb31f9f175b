package rule

import (
	"fmt"
	"math"

	"github.com/derivlab/backlab/internal/indicator"
	"github.com/derivlab/backlab/internal/market"
)

// Signal is a boolean series aligned 1:1 with the frame it was evaluated
// against. It never carries an undefined state: NaN-tainted comparisons
// resolve to false.
type Signal []bool

type evaluator struct {
	frame *market.Frame
	reg   *indicator.Registry
}

// Evaluate runs a compiled condition tree against an OHLCV frame and returns
// one boolean per bar. A nil registry selects the standard indicator set.
func Evaluate(e Expr, f *market.Frame, reg *indicator.Registry) (Signal, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("evaluate rule: %w", err)
	}
	if reg == nil {
		reg = indicator.NewRegistry()
	}
	out, err := e.eval(&evaluator{frame: f, reg: reg})
	if err != nil {
		return nil, err
	}
	return Signal(out), nil
}

// EvaluateJSON parses, compiles and evaluates a JSON rule in one step.
func EvaluateJSON(data []byte, f *market.Frame, reg *indicator.Registry) (Signal, error) {
	e, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Evaluate(e, f, reg)
}

func (c constOperand) resolve(ev *evaluator) ([]float64, error) {
	out := make([]float64, ev.frame.Len())
	for i := range out {
		out[i] = c.value
	}
	return out, nil
}

func (s seriesOperand) resolve(ev *evaluator) ([]float64, error) {
	// Raw column names short-circuit the registry so rules can reference
	// price directly.
	if col, ok := ev.frame.Column(s.name); ok {
		return col, nil
	}
	src, ok := ev.frame.Column(s.source)
	if !ok {
		return nil, fmt.Errorf("at %s: %w: %q", s.path, ErrUnknownColumn, s.source)
	}
	val, err := ev.reg.Compute(s.name, src, s.params)
	if err != nil {
		return nil, fmt.Errorf("at %s: %w", s.path, err)
	}
	if !val.MultiOutput() {
		return val.Series, nil
	}
	if s.field == "" {
		spec, _ := ev.reg.Spec(s.name)
		return nil, fmt.Errorf("at %s: %w: indicator %q produces fields %v",
			s.path, ErrFieldRequired, s.name, spec.Fields)
	}
	series, ok := val.Fields[s.field]
	if !ok {
		return nil, fmt.Errorf("at %s: indicator %q has no field %q", s.path, s.name, s.field)
	}
	return series, nil
}

func (e compareExpr) eval(ev *evaluator) ([]bool, error) {
	left, right, err := resolvePair(ev, e.left, e.right)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(left))
	for i := range out {
		out[i] = cmpAt(e.op, left[i], right[i])
	}
	return out, nil
}

func (e crossExpr) eval(ev *evaluator) ([]bool, error) {
	left, right, err := resolvePair(ev, e.left, e.right)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(left))
	// Index 0 has no predecessor; the crossing test is false by definition.
	for i := 1; i < len(left); i++ {
		if e.over {
			out[i] = cmpAt(opLE, left[i-1], right[i-1]) && cmpAt(opGT, left[i], right[i])
		} else {
			out[i] = cmpAt(opGE, left[i-1], right[i-1]) && cmpAt(opLT, left[i], right[i])
		}
	}
	return out, nil
}

func (e logicExpr) eval(ev *evaluator) ([]bool, error) {
	out := make([]bool, ev.frame.Len())
	if e.conj {
		for i := range out {
			out[i] = true
		}
	}
	for _, arg := range e.args {
		s, err := arg.eval(ev)
		if err != nil {
			return nil, err
		}
		for i := range out {
			if e.conj {
				out[i] = out[i] && s[i]
			} else {
				out[i] = out[i] || s[i]
			}
		}
	}
	return out, nil
}

func (e notExpr) eval(ev *evaluator) ([]bool, error) {
	s, err := e.arg.eval(ev)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(s))
	for i := range s {
		out[i] = !s[i]
	}
	return out, nil
}

func (e leafExpr) eval(ev *evaluator) ([]bool, error) {
	vals, err := e.op.resolve(ev)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(vals))
	for i, v := range vals {
		out[i] = v != 0 && !math.IsNaN(v)
	}
	return out, nil
}

func resolvePair(ev *evaluator, left, right operand) ([]float64, []float64, error) {
	l, err := left.resolve(ev)
	if err != nil {
		return nil, nil, err
	}
	r, err := right.resolve(ev)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

func cmpAt(op compareOp, a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	switch op {
	case opGT:
		return a > b
	case opLT:
		return a < b
	case opGE:
		return a >= b
	case opLE:
		return a <= b
	case opEQ:
		return a == b
	case opNE:
		return a != b
	}
	return false
}
