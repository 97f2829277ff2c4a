package optimizer

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	apperrors "qcat-backtest/internal/errors"
)

// OverfitDetector compares in-sample and out-of-sample scores across
// walk-forward windows
type OverfitDetector struct {
	config OverfitConfig
}

// OverfitConfig represents overfitting detection configuration
type OverfitConfig struct {
	MinWindows     int     // 最少有效窗口数
	MinEfficiency  float64 // 样本外/样本内得分比下限
	RatioThreshold float64 // 单窗口一致性阈值
}

// DefaultOverfitConfig returns the detector defaults
func DefaultOverfitConfig() OverfitConfig {
	return OverfitConfig{
		MinWindows:     2,
		MinEfficiency:  0.5,
		RatioThreshold: 0.7,
	}
}

// NewOverfitDetector creates a new overfit detector
func NewOverfitDetector(config OverfitConfig) *OverfitDetector {
	if config.MinWindows < 1 {
		config.MinWindows = 1
	}
	return &OverfitDetector{config: config}
}

// OverfitResult represents overfitting detection results
type OverfitResult struct {
	Windows         int                `json:"windows"`
	MeanInSample    float64            `json:"mean_in_sample"`
	MeanOutOfSample float64            `json:"mean_out_of_sample"`
	ScoreDecay      float64            `json:"score_decay"` // 样本内均值 - 样本外均值
	Efficiency      float64            `json:"efficiency"`  // 样本外均值 / 样本内均值
	Robustness      float64            `json:"robustness"`
	ParamStability  map[string]float64 `json:"param_stability"` // 1/(1+变异系数)
	IsOverfit       bool               `json:"is_overfit"`
}

// Check evaluates the successful windows
func (d *OverfitDetector) Check(windows []WindowResult) (*OverfitResult, error) {
	var valid []WindowResult
	for _, w := range windows {
		if w.OK() {
			valid = append(valid, w)
		}
	}
	if len(valid) < d.config.MinWindows {
		return nil, apperrors.InvalidInput("overfitting check needs %d successful windows, got %d", d.config.MinWindows, len(valid))
	}

	in := make([]float64, len(valid))
	out := make([]float64, len(valid))
	for i, w := range valid {
		in[i], out[i] = w.InSampleScore, w.OutOfSampleScore
	}

	result := &OverfitResult{
		Windows:         len(valid),
		MeanInSample:    stat.Mean(in, nil),
		MeanOutOfSample: stat.Mean(out, nil),
		ParamStability:  paramStability(valid),
	}
	result.ScoreDecay = result.MeanInSample - result.MeanOutOfSample
	if result.MeanInSample > 0 {
		result.Efficiency = result.MeanOutOfSample / result.MeanInSample
	}
	result.Robustness = d.robustness(in, out)
	result.IsOverfit = result.MeanInSample > 0 &&
		(result.MeanOutOfSample <= 0 || result.Efficiency < d.config.MinEfficiency)

	return result, nil
}

// robustness is the median out/in ratio times the share of windows whose
// ratio reaches RatioThreshold, over windows where both scores are positive
func (d *OverfitDetector) robustness(in, out []float64) float64 {
	var ratios []float64
	for i := range in {
		if in[i] > 0 && out[i] > 0 {
			ratios = append(ratios, out[i]/in[i])
		}
	}
	if len(ratios) == 0 {
		return 0
	}

	sort.Float64s(ratios)
	median := stat.Quantile(0.5, stat.Empirical, ratios, nil)
	consistent := 0
	for _, r := range ratios {
		if r >= d.config.RatioThreshold {
			consistent++
		}
	}
	return median * float64(consistent) / float64(len(in))
}

// paramStability scores how little each chosen parameter moved across windows
func paramStability(windows []WindowResult) map[string]float64 {
	values := make(map[string][]float64)
	for _, w := range windows {
		for name, v := range w.Params {
			values[name] = append(values[name], v)
		}
	}

	out := make(map[string]float64, len(values))
	for name, vs := range values {
		if len(vs) < 2 {
			out[name] = 1
			continue
		}
		mean, std := stat.MeanStdDev(vs, nil)
		cv := 0.0
		if mean != 0 {
			cv = math.Abs(std / mean)
		} else if std > 0 {
			cv = std
		}
		out[name] = 1 / (1 + cv)
	}
	return out
}
