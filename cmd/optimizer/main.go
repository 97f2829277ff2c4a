package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"qcat-backtest/internal/analysis/backtesting"
	"qcat-backtest/internal/cache"
	"qcat-backtest/internal/config"
	"qcat-backtest/internal/logger"
	"qcat-backtest/internal/market/kline"
	"qcat-backtest/internal/monitor"
	"qcat-backtest/internal/orchestrator"
	"qcat-backtest/internal/stability"
	"qcat-backtest/internal/strategy/backtest"
	"qcat-backtest/internal/strategy/optimizer"
)

// options holds the parsed command line
type options struct {
	configFile      string
	envFile         string
	data            string
	symbol          string
	interval        string
	strategy        string
	mode            string
	params          string
	ranges          string
	weights         string
	metric          string
	maxCombinations int
	workers         int
	holding         int
	training        int
	testing         int
	step            int
	out             string
	metricsAddr     string
	schedule        string
}

func main() {
	var opts options
	flag.StringVar(&opts.configFile, "config", "", "YAML configuration file")
	flag.StringVar(&opts.envFile, "env", ".env", "dotenv file (missing file is ignored)")
	flag.StringVar(&opts.data, "data", "", "CSV kline file; comma separated list in portfolio mode")
	flag.StringVar(&opts.symbol, "symbol", "", "symbol name(s), defaults to the data file name")
	flag.StringVar(&opts.interval, "interval", "", "bar interval (1m, 5m, 1h, 4h, 1d, ...); sets the annualization factor, empty keeps engine.bars_per_year")
	flag.StringVar(&opts.strategy, "strategy", "ma_cross", "strategy id")
	flag.StringVar(&opts.mode, "mode", "backtest", "backtest | optimize | walkforward | portfolio | strategies | encrypt")
	flag.StringVar(&opts.params, "params", "", "strategy parameters, e.g. fast=10,slow=30")
	flag.StringVar(&opts.ranges, "ranges", "", "YAML file: parameter name -> candidate list")
	flag.StringVar(&opts.weights, "weights", "", "portfolio weights, comma separated")
	flag.StringVar(&opts.metric, "metric", "", "score metric (sharpe, sortino, calmar, total_return)")
	flag.IntVar(&opts.maxCombinations, "max-combinations", 0, "combination cap, 0 uses the configured value")
	flag.IntVar(&opts.workers, "workers", 0, "worker count, 0 uses the configured value")
	flag.IntVar(&opts.holding, "holding", -1, "holding period in bars, -1 uses the configured value")
	flag.IntVar(&opts.training, "train", 0, "walk-forward training length")
	flag.IntVar(&opts.testing, "test", 0, "walk-forward testing length")
	flag.IntVar(&opts.step, "step", 0, "walk-forward step")
	flag.StringVar(&opts.out, "out", "", "output JSON file, stdout when empty")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flag.StringVar(&opts.schedule, "schedule", "", "cron spec (with seconds) for scheduled walk-forward runs")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	em := config.NewEnvManager("", config.DefaultEnvPrefix)
	if opts.mode == "encrypt" {
		return encryptSecret(em, os.Stdin, os.Stdout)
	}
	cfg.ApplyEnv(em)
	if err := applyInterval(cfg, opts.interval); err != nil {
		return err
	}
	if opts.schedule != "" {
		cfg.Schedule.Enabled = true
		cfg.Schedule.Cron = opts.schedule
		cfg.Schedule.Strategy = opts.strategy
	}

	logger.Init(cfg.Logging)
	log := logger.GetGlobalLogger()

	// 收到 SIGINT/SIGTERM 时取消正在进行的工作
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown := stability.NewShutdownManager(15*time.Second, 5*time.Second, log)
	defer shutdown.Shutdown(context.Background())

	metrics := monitor.NewMetrics()
	if opts.metricsAddr != "" || cfg.Monitoring.PrometheusEnabled {
		addr := opts.metricsAddr
		if addr == "" {
			addr = cfg.Monitoring.ListenAddr
		}
		srv := startMetricsServer(addr, cfg.Monitoring.PrometheusPath, metrics, log)
		shutdown.Register("metrics_server", 20, srv.Shutdown, 0)
	}

	reportCache, err := cache.NewCache(ctx, cfg.Cache, log)
	if err != nil {
		return err
	}
	shutdown.Register("report_cache", 10, func(context.Context) error {
		return reportCache.Close()
	}, 0)

	svc, err := backtesting.NewService(cfg, reportCache, log, metrics)
	if err != nil {
		return err
	}

	log.Info("Starting", "app", cfg.App.Name, "version", cfg.App.Version, "mode", opts.mode, "strategy", opts.strategy)

	switch opts.mode {
	case "strategies":
		return writeJSON(opts.out, svc.Strategies())

	case "backtest":
		series, err := loadSeries(svc, opts)
		if err != nil {
			return err
		}
		params, err := parseParams(opts.params)
		if err != nil {
			return err
		}
		holding := cfg.Engine.HoldingPeriod
		if opts.holding >= 0 {
			holding = opts.holding
		}
		tc := cfg.Engine.TransactionCost
		costs := backtest.CostModel{
			FixedFee:        tc.FixedFee,
			CommissionPct:   tc.CommissionPct,
			SlippagePct:     tc.SlippagePct,
			MarketImpactPct: tc.MarketImpactPct,
		}
		result, err := svc.RunBacktest(ctx, series, opts.strategy, params, holding, costs)
		if err != nil {
			return err
		}
		return writeJSON(opts.out, result)

	case "optimize":
		series, err := loadSeries(svc, opts)
		if err != nil {
			return err
		}
		spec, err := loadRanges(opts.ranges)
		if err != nil {
			return err
		}
		report, err := svc.Optimize(ctx, series, opts.strategy, spec, opts.metric, opts.maxCombinations, opts.workers)
		return writeReport(opts.out, report, err)

	case "walkforward":
		spec, err := loadRanges(opts.ranges)
		if err != nil {
			return err
		}
		if cfg.Schedule.Enabled {
			return runScheduled(ctx, cfg, svc, opts, spec, shutdown, log)
		}
		series, err := loadSeries(svc, opts)
		if err != nil {
			return err
		}
		report, err := svc.WalkForward(ctx, series, opts.strategy, spec, opts.training, opts.testing, opts.step)
		return writeReport(opts.out, report, err)

	case "portfolio":
		assets, err := loadPortfolio(svc, opts)
		if err != nil {
			return err
		}
		params, err := parseParams(opts.params)
		if err != nil {
			return err
		}
		weights, err := parseFloats(opts.weights)
		if err != nil {
			return err
		}
		result, err := svc.RunPortfolio(ctx, assets, weights, opts.strategy, params)
		if err != nil {
			return err
		}
		return writeJSON(opts.out, result)

	default:
		return fmt.Errorf("unknown mode %q", opts.mode)
	}
}

// runScheduled 按 cron 定时执行滚动窗口优化，直到收到退出信号
func runScheduled(ctx context.Context, cfg *config.Config, svc *backtesting.Service, opts options, spec optimizer.RangeSpec, shutdown *stability.ShutdownManager, log logger.Logger) error {
	task := &orchestrator.WalkForwardTask{
		Runner:      svc,
		StrategyID:  cfg.Schedule.Strategy,
		Spec:        spec,
		TrainingLen: opts.training,
		TestingLen:  opts.testing,
		Step:        opts.step,
		Load: func(ctx context.Context) (*kline.Series, error) {
			return loadSeries(svc, opts)
		},
		Sink: func(ctx context.Context, report *optimizer.WalkForwardReport) error {
			return writeJSON(opts.out, report)
		},
		Logger: log,
	}

	scheduler := orchestrator.NewScheduler(log)
	scheduler.RegisterHandler(orchestrator.TaskTypeWalkForward, task)
	if _, err := scheduler.AddTask(orchestrator.TaskTypeWalkForward, cfg.Schedule.Cron); err != nil {
		return err
	}
	scheduler.Start()
	shutdown.Register("scheduler", 30, func(context.Context) error {
		scheduler.Stop()
		return nil
	}, 0)
	log.Info("Scheduler started", "cron", cfg.Schedule.Cron, "strategy", cfg.Schedule.Strategy)

	<-ctx.Done()
	log.Info("Shutting down...")
	return nil
}

// applyInterval 校验 K 线周期并据此设置年化因子
func applyInterval(cfg *config.Config, interval string) error {
	if interval == "" {
		return nil
	}
	iv := kline.Interval(interval)
	if kline.GetIntervalDuration(iv) == 0 {
		return fmt.Errorf("unknown interval %q", interval)
	}
	cfg.Engine.BarsPerYear = kline.BarsPerYear(iv)
	return nil
}

// encryptSecret 读取首行明文，输出可放入环境变量的 ENC: 密文
func encryptSecret(em *config.EnvManager, r io.Reader, w io.Writer) error {
	if err := em.ValidateRequired([]string{config.EncryptionKeyVar}); err != nil {
		return err
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read secret: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return errors.New("no secret on stdin")
	}
	value, err := em.Encrypt(secret)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, value)
	return err
}

func startMetricsServer(addr, path string, metrics *monitor.Metrics, log logger.Logger) *http.Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server error", "error", err.Error())
		}
	}()
	log.Info("Metrics server started", "addr", addr, "path", path)
	return srv
}

func loadSeries(svc *backtesting.Service, opts options) (*kline.Series, error) {
	if opts.data == "" {
		return nil, errors.New("-data is required")
	}
	symbol := opts.symbol
	if symbol == "" {
		symbol = symbolFromPath(opts.data)
	}
	return svc.LoadSeries(opts.data, symbol, kline.Interval(opts.interval))
}

func loadPortfolio(svc *backtesting.Service, opts options) ([]*kline.Series, error) {
	paths := splitList(opts.data)
	if len(paths) == 0 {
		return nil, errors.New("-data is required")
	}
	symbols := splitList(opts.symbol)
	if len(symbols) > 0 && len(symbols) != len(paths) {
		return nil, fmt.Errorf("got %d symbols for %d data files", len(symbols), len(paths))
	}

	assets := make([]*kline.Series, len(paths))
	for i, p := range paths {
		symbol := symbolFromPath(p)
		if len(symbols) > 0 {
			symbol = symbols[i]
		}
		s, err := svc.LoadSeries(p, symbol, kline.Interval(opts.interval))
		if err != nil {
			return nil, err
		}
		assets[i] = s
	}
	return assets, nil
}

func loadRanges(path string) (optimizer.RangeSpec, error) {
	if path == "" {
		return nil, nil
	}
	ranges, err := config.LoadRanges(path)
	if err != nil {
		return nil, err
	}
	return optimizer.RangeSpec(ranges), nil
}

func parseParams(raw string) (map[string]float64, error) {
	params := make(map[string]float64)
	for _, pair := range splitList(raw) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid parameter %q, expected name=value", pair)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", k, err)
		}
		params[strings.TrimSpace(k)] = f
	}
	return params, nil
}

func parseFloats(raw string) ([]float64, error) {
	items := splitList(raw)
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]float64, len(items))
	for i, item := range items {
		f, err := strconv.ParseFloat(item, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight %q: %w", item, err)
		}
		out[i] = f
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func symbolFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// writeReport 超时或取消时仍输出部分报告，再返回原错误
func writeReport[T any](path string, report *T, err error) error {
	if report != nil {
		if werr := writeJSON(path, report); werr != nil {
			return werr
		}
	}
	return err
}

func writeJSON(path string, v interface{}) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
