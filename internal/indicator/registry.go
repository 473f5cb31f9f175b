package indicator

import (
	"errors"
	"fmt"
)

// ErrUnknown is returned when a name does not resolve to a registered
// indicator.
var ErrUnknown = errors.New("unsupported indicator")

// Value is the result of computing one indicator: either a single series or a
// table of named sub-series (exactly one of the two is set).
type Value struct {
	Series []float64
	Fields map[string][]float64
}

// MultiOutput reports whether the value carries named sub-series.
func (v Value) MultiOutput() bool { return v.Fields != nil }

// Spec describes one registered indicator: its parameter defaults and, for
// multi-output indicators, the field names it produces.
type Spec struct {
	Name     string
	Defaults map[string]float64
	Fields   []string
	compute  func(src []float64, p map[string]float64) Value
}

// Registry maps indicator names to their specs. The set is closed: lookups of
// unregistered names fail rather than defaulting.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry returns the standard registry: sma, ema, rsi, macd, bbands.
func NewRegistry() *Registry {
	r := &Registry{specs: make(map[string]Spec)}
	r.register(Spec{
		Name:     "sma",
		Defaults: map[string]float64{"window": 20},
		compute: func(src []float64, p map[string]float64) Value {
			return Value{Series: SMA(src, int(p["window"]))}
		},
	})
	r.register(Spec{
		Name:     "ema",
		Defaults: map[string]float64{"span": 20},
		compute: func(src []float64, p map[string]float64) Value {
			return Value{Series: EMA(src, int(p["span"]))}
		},
	})
	r.register(Spec{
		Name:     "rsi",
		Defaults: map[string]float64{"period": 14},
		compute: func(src []float64, p map[string]float64) Value {
			return Value{Series: RSI(src, int(p["period"]))}
		},
	})
	r.register(Spec{
		Name:     "macd",
		Defaults: map[string]float64{"fast": 12, "slow": 26, "signal": 9},
		Fields:   []string{"macd", "signal", "hist"},
		compute: func(src []float64, p map[string]float64) Value {
			return Value{Fields: MACD(src, int(p["fast"]), int(p["slow"]), int(p["signal"]))}
		},
	})
	r.register(Spec{
		Name:     "bbands",
		Defaults: map[string]float64{"window": 20, "k": 2.0},
		Fields:   []string{"bb_upper", "bb_mid", "bb_lower"},
		compute: func(src []float64, p map[string]float64) Value {
			return Value{Fields: BBands(src, int(p["window"]), p["k"])}
		},
	})
	return r
}

func (r *Registry) register(s Spec) { r.specs[s.Name] = s }

// Spec returns the spec for name.
func (r *Registry) Spec(name string) (Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Compute resolves name, merges params over the indicator's defaults and
// evaluates it against src. Window-style parameters must be positive.
func (r *Registry) Compute(name string, src []float64, params map[string]float64) (Value, error) {
	spec, ok := r.specs[name]
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	merged := make(map[string]float64, len(spec.Defaults))
	for k, v := range spec.Defaults {
		merged[k] = v
	}
	for k, v := range params {
		if _, known := spec.Defaults[k]; !known {
			return Value{}, fmt.Errorf("indicator %q: unknown parameter %q", name, k)
		}
		merged[k] = v
	}
	for k, v := range merged {
		if k != "k" && v < 1 {
			return Value{}, fmt.Errorf("indicator %q: parameter %q must be >= 1, got %v", name, k, v)
		}
	}
	return spec.compute(src, merged), nil
}
