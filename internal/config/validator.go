package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	apperrors "qcat-backtest/internal/errors"
)

var scoreMetrics = map[string]bool{
	"sharpe":       true,
	"sortino":      true,
	"calmar":       true,
	"total_return": true,
}

// Validator 配置验证器
type Validator struct {
	config *Config
}

// NewValidator 创建配置验证器
func NewValidator(config *Config) *Validator {
	return &Validator{
		config: config,
	}
}

// Validate 验证配置，收集所有错误后一并返回
func (v *Validator) Validate() error {
	var errs []string

	checks := []struct {
		name string
		fn   func() []string
	}{
		{"engine", v.validateEngine},
		{"optimizer", v.validateOptimizer},
		{"walk_forward", v.validateWalkForward},
		{"cache", v.validateCache},
		{"schedule", v.validateSchedule},
	}
	for _, check := range checks {
		for _, msg := range check.fn() {
			errs = append(errs, fmt.Sprintf("%s: %s", check.name, msg))
		}
	}

	if len(errs) > 0 {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidConfig,
			"configuration validation failed", strings.Join(errs, "; "), nil)
	}
	return nil
}

func (v *Validator) validateEngine() []string {
	e := v.config.Engine
	var errs []string
	if e.InitialCapital <= 0 {
		errs = append(errs, "initial_capital must be positive")
	}
	if e.HoldingPeriod < 0 {
		errs = append(errs, "holding_period must not be negative")
	}
	if e.BarsPerYear <= 0 {
		errs = append(errs, "bars_per_year must be positive")
	}
	tc := e.TransactionCost
	if tc.FixedFee < 0 || tc.CommissionPct < 0 || tc.SlippagePct < 0 || tc.MarketImpactPct < 0 {
		errs = append(errs, "transaction_cost components must not be negative")
	}
	return errs
}

func (v *Validator) validateOptimizer() []string {
	o := v.config.Optimizer
	var errs []string
	if !scoreMetrics[o.ScoreMetric] {
		errs = append(errs, fmt.Sprintf("unknown score_metric %q", o.ScoreMetric))
	}
	if o.MaxCombinations <= 0 {
		errs = append(errs, "max_combinations must be positive")
	}
	if o.MaxWorkers < 0 {
		errs = append(errs, "max_workers must not be negative")
	}
	if o.Timeout < 0 || o.CombinationTimeout < 0 {
		errs = append(errs, "timeouts must not be negative")
	}
	for strategy, params := range o.Ranges {
		for name, values := range params {
			if len(values) == 0 {
				errs = append(errs, fmt.Sprintf("ranges.%s.%s has no candidates", strategy, name))
			}
		}
	}
	return errs
}

func (v *Validator) validateWalkForward() []string {
	w := v.config.WalkForward
	var errs []string
	if w.TrainingLen <= 0 || w.TestingLen <= 0 || w.Step <= 0 {
		errs = append(errs, "training_len, testing_len and step must be positive")
	}
	return errs
}

func (v *Validator) validateCache() []string {
	c := v.config.Cache
	switch c.Backend {
	case "none", "memory":
		return nil
	case "redis":
		if c.Redis.Addr == "" {
			return []string{"redis.addr is required for the redis backend"}
		}
		return nil
	default:
		return []string{fmt.Sprintf("unknown backend %q", c.Backend)}
	}
}

func (v *Validator) validateSchedule() []string {
	s := v.config.Schedule
	if !s.Enabled {
		return nil
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(s.Cron); err != nil {
		return []string{fmt.Sprintf("invalid cron expression %q: %v", s.Cron, err)}
	}
	if s.Strategy == "" {
		return []string{"strategy is required when the schedule is enabled"}
	}
	return nil
}
