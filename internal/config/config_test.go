package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "qcat-backtest/internal/errors"
	"qcat-backtest/internal/logger"
	"qcat-backtest/internal/testutils"
)

func TestLoadConfig(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	configContent := `
app:
  name: "backtest-test"
engine:
  initial_capital: 50000
  holding_period: 14
  transaction_cost:
    commission_pct: 0.1
    fixed_fee: 1.5
optimizer:
  score_metric: sortino
  max_workers: 3
  timeout: 90s
  ranges:
    ma_cross:
      fast: [5, 10]
      slow: [20, 30]
logging:
  level: debug
`
	configPath := suite.CreateTempFile("config.yaml", configContent)
	suite.Logger.Info("Loading config", "path", configPath)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "backtest-test", cfg.App.Name)
	assert.Equal(t, 50000.0, cfg.Engine.InitialCapital)
	assert.Equal(t, 14, cfg.Engine.HoldingPeriod)
	assert.Equal(t, 0.1, cfg.Engine.TransactionCost.CommissionPct)
	assert.Equal(t, "sortino", cfg.Optimizer.ScoreMetric)
	assert.Equal(t, 3, cfg.Optimizer.MaxWorkers)
	assert.Equal(t, 90*time.Second, cfg.Optimizer.Timeout)
	assert.Equal(t, []float64{5, 10}, cfg.Optimizer.Ranges["ma_cross"]["fast"])
	assert.Equal(t, logger.LevelDebug, cfg.Logging.Level)

	// 未配置的字段保留默认值
	assert.Equal(t, 252.0, cfg.Engine.BarsPerYear)
	assert.Equal(t, 10000, cfg.Optimizer.MaxCombinations)

	require.NoError(t, NewValidator(cfg).Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sharpe", cfg.Optimizer.ScoreMetric)
}

func TestLoadRanges(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	path := suite.CreateTempFile("ranges.yaml", "period: [10, 14, 20]\noversold: [20, 30]\n")
	ranges, err := LoadRanges(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 14, 20}, ranges["period"])
	assert.Len(t, ranges, 2)
}

func TestValidatorCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Engine.InitialCapital = 0
	cfg.Optimizer.ScoreMetric = "alpha"
	cfg.Cache.Backend = "memcached"
	cfg.WalkForward.Step = 0
	cfg.Schedule.Enabled = true
	cfg.Schedule.Cron = "not a cron"

	err := NewValidator(cfg).Validate()
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidConfig))

	details := apperrors.GetAppError(err).Details
	for _, part := range []string{"initial_capital", "score_metric", "memcached", "step", "cron"} {
		assert.Contains(t, details, part)
	}
}

func TestEnvOverrides(t *testing.T) {
	testutils.SetEnv(t, "QBT_OPTIMIZER_MAX_WORKERS", "7")
	testutils.SetEnv(t, "QBT_ENGINE_ALLOW_SHORT", "false")
	testutils.SetEnv(t, "QBT_OPTIMIZER_TIMEOUT", "2m")
	testutils.SetEnv(t, "QBT_ENGINE_RISK_FREE_RATE", "0.02")

	cfg := Default()
	cfg.ApplyEnv(NewEnvManager("test-key", ""))

	assert.Equal(t, 7, cfg.Optimizer.MaxWorkers)
	assert.False(t, cfg.Engine.AllowShort)
	assert.Equal(t, 2*time.Minute, cfg.Optimizer.Timeout)
	assert.Equal(t, 0.02, cfg.Engine.RiskFreeRate)
}

func TestEncryptedEnvValue(t *testing.T) {
	em := NewEnvManager("test-key", "QBTTEST_")
	enc, err := em.Encrypt("s3cret")
	require.NoError(t, err)
	testutils.SetEnv(t, "QBTTEST_CACHE_REDIS_PASSWORD", enc)

	assert.Equal(t, "s3cret", em.GetEncryptedString("cache_redis_password", ""))

	other := NewEnvManager("other-key", "QBTTEST_")
	assert.NotEqual(t, "s3cret", other.GetEncryptedString("cache_redis_password", "fallback"))

	plain, err := em.Decrypt(strings.TrimPrefix(enc, "ENC:"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)

	_, err = em.Decrypt("ENC:c2hvcnQ=")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidConfig))
	_, err = em.Decrypt("ENC:not base64!")
	assert.Error(t, err)
}

func TestMalformedEnvValueFallsBack(t *testing.T) {
	testutils.SetEnv(t, "QBTBAD_OPTIMIZER_MAX_WORKERS", "many")
	testutils.SetEnv(t, "QBTBAD_OPTIMIZER_TIMEOUT", "soon")

	em := NewEnvManager("k", "QBTBAD_")
	assert.Equal(t, 3, em.GetInt("optimizer_max_workers", 3))
	assert.Equal(t, time.Minute, em.GetDuration("optimizer_timeout", time.Minute))
	assert.Equal(t, "QBTBAD_OPTIMIZER_TIMEOUT", em.Name("optimizer_timeout"))
}

func TestDotEnv(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	path := suite.CreateTempFile(".env", "QBTDOT_ENGINE_HOLDING_PERIOD=21\n")
	t.Cleanup(func() { os.Unsetenv("QBTDOT_ENGINE_HOLDING_PERIOD") })

	require.NoError(t, LoadDotEnv(path, suite.TempDir+"/missing.env"))
	em := NewEnvManager("k", "QBTDOT_")
	assert.Equal(t, 21, em.GetInt("engine_holding_period", 0))

	require.NoError(t, em.ValidateRequired([]string{"engine_holding_period"}))
	err := em.ValidateRequired([]string{"never_set", "also_missing"})
	require.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidConfig))
	assert.Contains(t, err.Error(), "QBTDOT_NEVER_SET")
}

func TestExampleConfigIsValid(t *testing.T) {
	cfg, err := Load("../../configs/config.example.yaml")
	require.NoError(t, err)
	require.NoError(t, NewValidator(cfg).Validate())

	assert.Equal(t, 30*time.Second, cfg.Optimizer.CombinationTimeout)
	assert.Equal(t, []float64{5, 10, 15, 20}, cfg.Optimizer.Ranges["ma_cross"]["fast"])
	assert.Equal(t, logger.LogLevel("info"), cfg.Logging.Level)

	ranges, err := LoadRanges("../../configs/ranges.example.yaml")
	require.NoError(t, err)
	assert.Len(t, ranges["slow"], 5)
}
