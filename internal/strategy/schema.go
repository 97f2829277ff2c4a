package strategy

import (
	"fmt"
	"math"
	"sort"
	"strings"

	apperrors "qcat-backtest/internal/errors"
)

// ParamSpec describes one tunable parameter
type ParamSpec struct {
	Name    string  `json:"name" yaml:"name"`
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
	Step    float64 `json:"step" yaml:"step"`
	Default float64 `json:"default" yaml:"default"`
	Integer bool    `json:"integer" yaml:"integer"`
}

// Candidates enumerates Min..Max by Step
func (p ParamSpec) Candidates() []float64 {
	if p.Step <= 0 || p.Max < p.Min {
		return []float64{p.Default}
	}
	n := int(math.Floor((p.Max-p.Min)/p.Step+1e-9)) + 1
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		v := p.Min + float64(i)*p.Step
		// 消除浮点累计误差
		v = math.Round(v*1e9) / 1e9
		out = append(out, v)
	}
	return out
}

// Schema returns the parameter specs of a variant
func Schema(kind Kind) ([]ParamSpec, error) {
	v, ok := variants[kind]
	if !ok {
		return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeStrategyNotFound, "unknown strategy", string(kind), nil)
	}
	out := make([]ParamSpec, len(v.params))
	copy(out, v.params)
	return out, nil
}

// DefaultParams returns the default value of every parameter
func DefaultParams(kind Kind) (map[string]float64, error) {
	specs, err := Schema(kind)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(specs))
	for _, s := range specs {
		out[s.Name] = s.Default
	}
	return out, nil
}

// DefaultRanges expands the schema of a variant into candidate lists
func DefaultRanges(kind Kind) (map[string][]float64, error) {
	specs, err := Schema(kind)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float64, len(specs))
	for _, s := range specs {
		out[s.Name] = s.Candidates()
	}
	return out, nil
}

// Resolve fills defaults and validates a parameter set against the schema
// and the variant's cross-parameter constraints.
func Resolve(kind Kind, params map[string]float64) (map[string]float64, error) {
	v, ok := variants[kind]
	if !ok {
		return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeStrategyNotFound, "unknown strategy", string(kind), nil)
	}

	specs := make(map[string]ParamSpec, len(v.params))
	resolved := make(map[string]float64, len(v.params))
	for _, s := range v.params {
		specs[s.Name] = s
		resolved[s.Name] = s.Default
	}

	var unknown []string
	for name, value := range params {
		spec, ok := specs[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, apperrors.InvalidParameter("%s: parameter %s is not a finite number", kind, name)
		}
		if value < spec.Min || value > spec.Max {
			return nil, apperrors.InvalidParameter("%s: parameter %s=%g outside [%g, %g]", kind, name, value, spec.Min, spec.Max)
		}
		if spec.Integer && value != math.Trunc(value) {
			return nil, apperrors.InvalidParameter("%s: parameter %s=%g must be an integer", kind, name, value)
		}
		resolved[name] = value
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, apperrors.InvalidParameter("%s: unknown parameters %s", kind, strings.Join(unknown, ", "))
	}

	if v.constraint != nil {
		if err := v.constraint(resolved); err != nil {
			return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeParameterInvalid,
				fmt.Sprintf("%s: constraint violated", kind), err.Error(), nil)
		}
	}
	return resolved, nil
}

// less returns a constraint requiring params[a] < params[b]
func less(a, b string) func(map[string]float64) error {
	return func(p map[string]float64) error {
		if p[a] >= p[b] {
			return fmt.Errorf("%s (%g) must be less than %s (%g)", a, p[a], b, p[b])
		}
		return nil
	}
}

// lessOrEqual returns a constraint requiring params[a] <= params[b]
func lessOrEqual(a, b string) func(map[string]float64) error {
	return func(p map[string]float64) error {
		if p[a] > p[b] {
			return fmt.Errorf("%s (%g) must not exceed %s (%g)", a, p[a], b, p[b])
		}
		return nil
	}
}
