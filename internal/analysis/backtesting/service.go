package backtesting

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"qcat-backtest/internal/cache"
	"qcat-backtest/internal/config"
	apperrors "qcat-backtest/internal/errors"
	"qcat-backtest/internal/logger"
	"qcat-backtest/internal/market/kline"
	"qcat-backtest/internal/monitor"
	"qcat-backtest/internal/strategy"
	"qcat-backtest/internal/strategy/backtest"
	"qcat-backtest/internal/strategy/optimizer"
)

// StrategyInfo 策略及其参数说明
type StrategyInfo struct {
	ID       string               `json:"id"`
	Params   []strategy.ParamSpec `json:"params"`
	Defaults map[string]float64   `json:"defaults"`
	Ranges   map[string][]float64 `json:"default_ranges"`
}

// Service 回测服务，统一对外接口
type Service struct {
	config   *config.Config
	factory  *optimizer.Factory
	cache    cache.Cache
	cacheTTL time.Duration
	logger   logger.Logger
	metrics  *monitor.Metrics
}

// NewService 创建回测服务
func NewService(cfg *config.Config, c cache.Cache, log logger.Logger, metrics *monitor.Metrics) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.NewValidator(cfg).Validate(); err != nil {
		return nil, err
	}
	if c == nil {
		c = cache.NopCache{}
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &Service{
		config:   cfg,
		factory:  optimizer.NewFactory(cfg, log, metrics),
		cache:    c,
		cacheTTL: cfg.Cache.TTL,
		logger:   log,
		metrics:  metrics,
	}, nil
}

// Strategies 列出所有可用策略
func (s *Service) Strategies() []StrategyInfo {
	var out []StrategyInfo
	for _, kind := range strategy.Kinds() {
		schema, _ := strategy.Schema(kind)
		defaults, _ := strategy.DefaultParams(kind)
		ranges, _ := strategy.DefaultRanges(kind)
		out = append(out, StrategyInfo{ID: string(kind), Params: schema, Defaults: defaults, Ranges: ranges})
	}
	return out
}

// LoadSeries 从CSV文件加载K线
func (s *Service) LoadSeries(path, symbol string, interval kline.Interval) (*kline.Series, error) {
	series, err := kline.LoadCSV(path, symbol, interval)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Series loaded", "path", path, "symbol", symbol, "bars", series.Len())
	return series, nil
}

// RunBacktest 单参数组合回测
func (s *Service) RunBacktest(ctx context.Context, series *kline.Series, strategyID string, params map[string]float64, holdingPeriod int, costs backtest.CostModel) (*backtest.Result, error) {
	kind, err := strategy.ParseKind(strategyID)
	if err != nil {
		return nil, err
	}

	opts := s.factory.EngineOptions()
	opts.HoldingPeriod = holdingPeriod
	opts.Costs = costs
	engine, err := backtest.NewEngine(opts, s.logger)
	if err != nil {
		return nil, err
	}

	result, err := engine.Run(ctx, series, kind, params)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveBacktest(strategyID, result.Duration)
	s.logger.Info("Backtest finished",
		"run_id", result.RunID, "strategy", strategyID, "symbol", series.Symbol,
		"score", result.Score, "trades", len(result.Trades))
	return result, nil
}

// RunPortfolio 多资产组合回测
func (s *Service) RunPortfolio(ctx context.Context, assets []*kline.Series, weights []float64, strategyID string, params map[string]float64) (*backtest.Result, error) {
	kind, err := strategy.ParseKind(strategyID)
	if err != nil {
		return nil, err
	}
	engine, err := s.factory.CreateEngine()
	if err != nil {
		return nil, err
	}

	result, err := engine.RunPortfolio(ctx, assets, weights, kind, params)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveBacktest(strategyID, result.Duration)
	s.logger.Info("Portfolio backtest finished",
		"run_id", result.RunID, "strategy", strategyID, "assets", len(result.Symbols), "score", result.Score)
	return result, nil
}

// Optimize 并行参数优化；完整的报告按输入缓存
func (s *Service) Optimize(ctx context.Context, series *kline.Series, strategyID string, spec optimizer.RangeSpec, metric string, maxCombinations, maxWorkers int) (*optimizer.Report, error) {
	kind, err := strategy.ParseKind(strategyID)
	if err != nil {
		return nil, err
	}
	spec = s.resolveSpec(strategyID, spec)

	oc := s.factory.OptimizerConfig()
	if metric != "" {
		oc.ScoreMetric = backtest.ScoreMetric(metric)
	}
	if maxCombinations > 0 {
		oc.MaxCombinations = maxCombinations
	}
	if maxWorkers > 0 {
		oc.MaxWorkers = maxWorkers
	}

	opt, err := optimizer.NewOptimizer(s.factory.EngineOptions(), oc, s.logger, s.metrics)
	if err != nil {
		return nil, err
	}

	key, err := s.cacheKey(series, kind, spec, opt)
	if err != nil {
		return nil, err
	}
	useCache := true
	if err := cache.Healthy(ctx, s.cache); err != nil {
		s.logger.Warn("Report cache unavailable, bypassing", "error", err.Error())
		useCache = false
	}
	if useCache {
		var cached optimizer.Report
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.logger.Info("Optimization report served from cache", "report_id", cached.ID, "strategy", strategyID)
			return &cached, nil
		} else if !cache.IsMiss(err) {
			s.logger.Warn("Report cache read failed", "error", err.Error())
		}
	}

	report, err := opt.Optimize(ctx, series, kind, spec)
	if err != nil || !useCache {
		return report, err
	}

	if err := s.cache.Set(ctx, key, report, s.cacheTTL); err != nil {
		s.logger.Warn("Report cache write failed", "error", err.Error())
	}
	return report, nil
}

// WalkForward 滚动窗口优化与样本外检验；长度参数为0时使用配置值
func (s *Service) WalkForward(ctx context.Context, series *kline.Series, strategyID string, spec optimizer.RangeSpec, trainingLen, testingLen, step int) (*optimizer.WalkForwardReport, error) {
	kind, err := strategy.ParseKind(strategyID)
	if err != nil {
		return nil, err
	}
	spec = s.resolveSpec(strategyID, spec)

	wfc := s.factory.WalkForwardConfig()
	if trainingLen > 0 {
		wfc.TrainingLen = trainingLen
	}
	if testingLen > 0 {
		wfc.TestingLen = testingLen
	}
	if step > 0 {
		wfc.Step = step
	}

	opt, err := s.factory.CreateOptimizer()
	if err != nil {
		return nil, err
	}
	wf, err := optimizer.NewWalkForward(wfc, opt, s.factory.CreateOverfitDetector(), s.logger, s.metrics)
	if err != nil {
		return nil, err
	}
	return wf.Run(ctx, series, kind, spec)
}

// resolveSpec 未指定参数范围时使用配置中的范围
func (s *Service) resolveSpec(strategyID string, spec optimizer.RangeSpec) optimizer.RangeSpec {
	if len(spec) > 0 {
		return spec
	}
	if configured := s.factory.Ranges(strategyID); configured != nil {
		return configured
	}
	return spec
}

// cacheKey 由数据指纹、策略、参数范围与配置生成缓存键
func (s *Service) cacheKey(series *kline.Series, kind strategy.Kind, spec optimizer.RangeSpec, opt *optimizer.Optimizer) (string, error) {
	oc := opt.Config()
	payload, err := json.Marshal(map[string]interface{}{
		"series":   series.Fingerprint(),
		"strategy": kind,
		"spec":     spec,
		"metric":   oc.ScoreMetric,
		"cap":      oc.MaxCombinations,
		"seed":     oc.Seed,
		"engine":   opt.Engine().Options(),
	})
	if err != nil {
		return "", apperrors.NewAppError(apperrors.ErrCodeInternal, "failed to build cache key", err)
	}
	h := fnv.New64a()
	h.Write(payload)
	return fmt.Sprintf("report:%s:%016x", kind, h.Sum64()), nil
}
