package strategy

import (
	"fmt"
	"math"

	apperrors "qcat-backtest/internal/errors"
	"qcat-backtest/internal/indicator"
)

// triggers are the raw conditions a variant detects at one bar
type triggers struct {
	long      bool
	short     bool
	exitLong  bool
	exitShort bool
}

// variant is the closed description of one strategy kind
type variant struct {
	params     []ParamSpec
	constraint func(p map[string]float64) error
	requests   func(p map[string]float64) []indicator.Request
	lines      []string
	rule       func(p map[string]float64, v [][]float64) func(i int) triggers
}

// Machine is a configured strategy instance. It is immutable and safe to
// share; per-run state lives in the Evaluator returned by Bind.
type Machine struct {
	kind       Kind
	params     map[string]float64
	allowShort bool
	v          *variant
}

// New validates params and builds a machine for the given kind
func New(kind Kind, params map[string]float64, allowShort bool) (*Machine, error) {
	resolved, err := Resolve(kind, params)
	if err != nil {
		return nil, err
	}
	v := variants[kind]
	return &Machine{kind: kind, params: resolved, allowShort: allowShort, v: &v}, nil
}

// Kind returns the strategy kind
func (m *Machine) Kind() Kind {
	return m.kind
}

// Params returns a copy of the resolved parameters
func (m *Machine) Params() map[string]float64 {
	out := make(map[string]float64, len(m.params))
	for k, v := range m.params {
		out[k] = v
	}
	return out
}

// Requests lists the indicators the strategy reads
func (m *Machine) Requests() []indicator.Request {
	return m.v.requests(m.params)
}

// Bind resolves the indicator lines the strategy reads from a computed set
func (m *Machine) Bind(set indicator.Set) (*Evaluator, error) {
	lines := make([][]float64, len(m.v.lines))
	for i, name := range m.v.lines {
		values, ok := set.Get(name)
		if !ok {
			return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeIndicatorFailed,
				fmt.Sprintf("%s: indicator series missing", m.kind), name, nil)
		}
		lines[i] = values
	}
	return &Evaluator{
		machine: m,
		lines:   lines,
		rule:    m.v.rule(m.params, lines),
	}, nil
}

// Evaluator emits one signal per bar for a bound indicator set
type Evaluator struct {
	machine *Machine
	lines   [][]float64
	rule    func(i int) triggers
}

// Evaluate returns the signal for bar i given the current position state.
// Bar 0 and any bar where a needed value at i or i-1 is missing yield HOLD.
func (e *Evaluator) Evaluate(state State, i int) Signal {
	if i < 1 {
		return SignalHold
	}
	for _, line := range e.lines {
		if i >= len(line) || !indicator.Valid(line[i]) || !indicator.Valid(line[i-1]) {
			return SignalHold
		}
	}

	t := e.rule(i)
	switch state {
	case StateFlat:
		if t.long {
			return SignalEnterLong
		}
		if t.short && e.machine.allowShort {
			return SignalEnterShort
		}
	case StateLong:
		if t.exitLong {
			return SignalExit
		}
	case StateShort:
		if t.exitShort {
			return SignalExit
		}
	}
	return SignalHold
}

// crossAbove reports a strict crossing of x over y between i-1 and i
func crossAbove(x, y []float64, i int) bool {
	return x[i-1] < y[i-1] && x[i] > y[i]
}

// crossBelow reports a strict crossing of x under y between i-1 and i
func crossBelow(x, y []float64, i int) bool {
	return x[i-1] > y[i-1] && x[i] < y[i]
}

// crossAboveLevel reports previous < level and current > level
func crossAboveLevel(x []float64, level float64, i int) bool {
	return x[i-1] < level && x[i] > level
}

// crossBelowLevel reports previous > level and current < level
func crossBelowLevel(x []float64, level float64, i int) bool {
	return x[i-1] > level && x[i] < level
}

func cloudTop(a, b float64) float64    { return math.Max(a, b) }
func cloudBottom(a, b float64) float64 { return math.Min(a, b) }
