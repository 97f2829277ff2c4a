package optimizer

import (
	"math"
	"math/rand"
	"sort"

	apperrors "qcat-backtest/internal/errors"
	"qcat-backtest/internal/strategy"
)

// RangeSpec maps each parameter name to its candidate values
type RangeSpec map[string][]float64

// Names returns the parameter names in sorted order
func (s RangeSpec) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size returns the number of combinations, saturating at math.MaxInt
func (s RangeSpec) Size() int {
	size := 1
	for _, values := range s {
		n := len(dedupe(values))
		if n == 0 {
			return 0
		}
		if size > math.MaxInt/n {
			return math.MaxInt
		}
		size *= n
	}
	return size
}

// Validate checks the spec against the schema of kind
func (s RangeSpec) Validate(kind strategy.Kind) error {
	schema, err := strategy.Schema(kind)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(schema))
	for _, p := range schema {
		known[p.Name] = true
	}

	for _, name := range s.Names() {
		if !known[name] {
			return apperrors.InvalidInput("strategy %s has no parameter %q", kind, name)
		}
		if len(s[name]) == 0 {
			return apperrors.InvalidInput("parameter %q has no candidate values", name)
		}
		for _, v := range s[name] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return apperrors.InvalidInput("parameter %q has a non-finite candidate", name)
			}
		}
	}
	return nil
}

// Grid is an indexable view of the cartesian product of a RangeSpec.
// The last name in sorted order varies fastest.
type Grid struct {
	names   []string
	values  [][]float64
	total   int
	indices []int // 采样后的组合序号，nil 表示全量
}

// Expand builds the grid of spec. When the product exceeds max (max > 0),
// exactly max distinct combinations are sampled with a source seeded by seed
// and kept in ascending combination order.
func Expand(spec RangeSpec, max int, seed int64) (*Grid, error) {
	g := &Grid{names: spec.Names(), total: 1}
	for _, name := range g.names {
		values := dedupe(spec[name])
		if len(values) == 0 {
			return nil, apperrors.InvalidInput("parameter %q has no candidate values", name)
		}
		g.values = append(g.values, values)
	}

	size := spec.Size()
	if size == math.MaxInt {
		return nil, apperrors.InvalidInput("parameter range spec is too large to enumerate")
	}
	g.total = size

	if max > 0 && g.total > max {
		g.indices = floydSample(g.total, max, rand.New(rand.NewSource(seed)))
	}
	return g, nil
}

// Len returns the number of combinations to evaluate
func (g *Grid) Len() int {
	if g.indices != nil {
		return len(g.indices)
	}
	return g.total
}

// Total returns the size of the full cartesian product
func (g *Grid) Total() int {
	return g.total
}

// Sampled reports whether the grid was capped
func (g *Grid) Sampled() bool {
	return g.indices != nil
}

// Index returns the combination index of the k-th entry
func (g *Grid) Index(k int) int {
	if g.indices != nil {
		return g.indices[k]
	}
	return k
}

// At decodes the k-th entry into a parameter set
func (g *Grid) At(k int) map[string]float64 {
	idx := g.Index(k)
	params := make(map[string]float64, len(g.names))
	for i := len(g.names) - 1; i >= 0; i-- {
		n := len(g.values[i])
		params[g.names[i]] = g.values[i][idx%n]
		idx /= n
	}
	return params
}

// floydSample draws m distinct integers from [0, n), sorted ascending
func floydSample(n, m int, r *rand.Rand) []int {
	chosen := make(map[int]struct{}, m)
	out := make([]int, 0, m)
	for j := n - m; j < n; j++ {
		t := int(r.Int63n(int64(j) + 1))
		if _, ok := chosen[t]; ok {
			t = j
		}
		chosen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

// dedupe drops repeated values, keeping first occurrences in order
func dedupe(values []float64) []float64 {
	seen := make(map[float64]bool, len(values))
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
