package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"qcat-backtest/internal/logger"
)

// Config represents the application configuration
type Config struct {
	App         AppConfig         `yaml:"app"`
	Engine      EngineConfig      `yaml:"engine"`
	Optimizer   OptimizerConfig   `yaml:"optimizer"`
	WalkForward WalkForwardConfig `yaml:"walk_forward"`
	Cache       CacheConfig       `yaml:"cache"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Logging     logger.Config     `yaml:"logging"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
}

// AppConfig represents application configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// EngineConfig represents single-run backtest settings
type EngineConfig struct {
	InitialCapital  float64               `yaml:"initial_capital"`
	HoldingPeriod   int                   `yaml:"holding_period"` // 0 表示仅由信号平仓
	AllowShort      bool                  `yaml:"allow_short"`
	RiskFreeRate    float64               `yaml:"risk_free_rate"` // 年化
	BarsPerYear     float64               `yaml:"bars_per_year"`
	TransactionCost TransactionCostConfig `yaml:"transaction_cost"`
}

// TransactionCostConfig mirrors the cost model; percentages are in percent units
type TransactionCostConfig struct {
	FixedFee        float64 `yaml:"fixed_fee"`
	CommissionPct   float64 `yaml:"commission_pct"`
	SlippagePct     float64 `yaml:"slippage_pct"`
	MarketImpactPct float64 `yaml:"market_impact_pct"`
}

// OptimizerConfig represents parallel optimizer settings
type OptimizerConfig struct {
	ScoreMetric          string                          `yaml:"score_metric"`
	MaxCombinations      int                             `yaml:"max_combinations"`
	MaxWorkers           int                             `yaml:"max_workers"`
	Seed                 int64                           `yaml:"seed"`
	CombinationTimeout   time.Duration                   `yaml:"combination_timeout"`
	Timeout              time.Duration                   `yaml:"timeout"`
	MemoryThresholdMB    int                             `yaml:"memory_threshold_mb"`
	MemorySampleInterval time.Duration                   `yaml:"memory_sample_interval"`
	Ranges               map[string]map[string][]float64 `yaml:"ranges"` // strategy -> param -> candidates
}

// WalkForwardConfig represents walk-forward harness settings
type WalkForwardConfig struct {
	TrainingLen int  `yaml:"training_len"`
	TestingLen  int  `yaml:"testing_len"`
	Step        int  `yaml:"step"`
	Anchored    bool `yaml:"anchored"`
}

// CacheConfig represents report cache configuration
type CacheConfig struct {
	Backend  string        `yaml:"backend"` // memory, redis, none
	TTL      time.Duration `yaml:"ttl"`
	MaxItems int           `yaml:"max_items"`
	Redis    RedisConfig   `yaml:"redis"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// MonitoringConfig represents monitoring configuration
type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	ListenAddr        string `yaml:"listen_addr"`
	PrometheusPath    string `yaml:"prometheus_path"`
}

// ScheduleConfig represents scheduled re-optimization
type ScheduleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Cron     string `yaml:"cron"`
	Strategy string `yaml:"strategy"`
}

// Default returns a configuration with every field populated
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:    "qcat-backtest",
			Version: "1.0.0",
			Env:     "development",
		},
		Engine: EngineConfig{
			InitialCapital: 10000,
			HoldingPeriod:  0,
			AllowShort:     true,
			RiskFreeRate:   0,
			BarsPerYear:    252,
		},
		Optimizer: OptimizerConfig{
			ScoreMetric:          "sharpe",
			MaxCombinations:      10000,
			MaxWorkers:           runtime.NumCPU(),
			Seed:                 42,
			CombinationTimeout:   30 * time.Second,
			Timeout:              30 * time.Minute,
			MemoryThresholdMB:    2048,
			MemorySampleInterval: 500 * time.Millisecond,
		},
		WalkForward: WalkForwardConfig{
			TrainingLen: 500,
			TestingLen:  100,
			Step:        100,
		},
		Cache: CacheConfig{
			Backend:  "memory",
			TTL:      time.Hour,
			MaxItems: 256,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		Monitoring: MonitoringConfig{
			PrometheusEnabled: false,
			ListenAddr:        ":9102",
			PrometheusPath:    "/metrics",
		},
		Logging: logger.DefaultConfig,
		Schedule: ScheduleConfig{
			Cron: "0 0 1 * * *",
		},
	}
}

// Load loads configuration from a YAML file on top of the defaults
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadRanges reads a strategy range file: param name -> candidate values
func LoadRanges(filename string) (map[string][]float64, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read ranges file: %w", err)
	}

	ranges := make(map[string][]float64)
	if err := yaml.Unmarshal(data, &ranges); err != nil {
		return nil, fmt.Errorf("failed to parse ranges file: %w", err)
	}
	return ranges, nil
}

// ApplyEnv overrides configuration values from prefixed environment variables
func (c *Config) ApplyEnv(em *EnvManager) {
	c.App.Env = em.GetString("app_env", c.App.Env)

	c.Engine.InitialCapital = em.GetFloat("engine_initial_capital", c.Engine.InitialCapital)
	c.Engine.HoldingPeriod = em.GetInt("engine_holding_period", c.Engine.HoldingPeriod)
	c.Engine.AllowShort = em.GetBool("engine_allow_short", c.Engine.AllowShort)
	c.Engine.RiskFreeRate = em.GetFloat("engine_risk_free_rate", c.Engine.RiskFreeRate)
	c.Engine.BarsPerYear = em.GetFloat("engine_bars_per_year", c.Engine.BarsPerYear)

	c.Optimizer.ScoreMetric = em.GetString("optimizer_score_metric", c.Optimizer.ScoreMetric)
	c.Optimizer.MaxCombinations = em.GetInt("optimizer_max_combinations", c.Optimizer.MaxCombinations)
	c.Optimizer.MaxWorkers = em.GetInt("optimizer_max_workers", c.Optimizer.MaxWorkers)
	c.Optimizer.Seed = int64(em.GetInt("optimizer_seed", int(c.Optimizer.Seed)))
	c.Optimizer.Timeout = em.GetDuration("optimizer_timeout", c.Optimizer.Timeout)
	c.Optimizer.CombinationTimeout = em.GetDuration("optimizer_combination_timeout", c.Optimizer.CombinationTimeout)

	c.Cache.Backend = em.GetString("cache_backend", c.Cache.Backend)
	c.Cache.Redis.Addr = em.GetString("cache_redis_addr", c.Cache.Redis.Addr)
	c.Cache.Redis.Password = em.GetEncryptedString("cache_redis_password", c.Cache.Redis.Password)

	c.Logging.Level = logger.LogLevel(em.GetString("log_level", string(c.Logging.Level)))
}
