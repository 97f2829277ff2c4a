package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel 日志级别
type LogLevel string

const (
	LevelTrace LogLevel = "trace"
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat 日志格式
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// ContextKey 上下文字段键
type ContextKey string

const (
	RunIDKey    ContextKey = "run_id"
	StrategyKey ContextKey = "strategy"
	WindowKey   ContextKey = "window"
)

// Config 日志配置
type Config struct {
	Level      LogLevel  `yaml:"level" json:"level"`
	Format     LogFormat `yaml:"format" json:"format"`
	Output     string    `yaml:"output" json:"output"`           // stdout, stderr, file, discard
	Filename   string    `yaml:"filename" json:"filename"`       // 日志文件路径
	MaxSize    int       `yaml:"max_size" json:"max_size"`       // 单个日志文件最大大小(MB)
	MaxAge     int       `yaml:"max_age" json:"max_age"`         // 日志文件保留天数
	MaxBackups int       `yaml:"max_backups" json:"max_backups"` // 最大备份文件数
	Compress   bool      `yaml:"compress" json:"compress"`       // 是否压缩备份文件
	Caller     bool      `yaml:"caller" json:"caller"`           // 是否显示调用者信息
	Timestamp  bool      `yaml:"timestamp" json:"timestamp"`     // 是否显示时间戳
}

// DefaultConfig 默认配置
var DefaultConfig = Config{
	Level:      LevelInfo,
	Format:     FormatJSON,
	Output:     "stderr",
	Filename:   "logs/backtest.log",
	MaxSize:    100,
	MaxAge:     30,
	MaxBackups: 10,
	Compress:   true,
	Caller:     false,
	Timestamp:  true,
}

// Logger 日志器接口
type Logger interface {
	Trace(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithContext(ctx context.Context) Logger

	SetLevel(level LogLevel)
	GetLevel() LogLevel
}

// StructuredLogger 结构化日志器
type StructuredLogger struct {
	logger *logrus.Logger
	entry  *logrus.Entry
	config *Config
	mu     *sync.RWMutex
}

// NewLogger 创建新的日志器
func NewLogger(config Config) Logger {
	logger := logrus.New()

	// 设置日志级别
	level, err := logrus.ParseLevel(string(config.Level))
	if err != nil {
		level = logrus.InfoLevel
		config.Level = LevelInfo
	}
	logger.SetLevel(level)

	prettyfier := func(f *runtime.Frame) (string, string) {
		filename := filepath.Base(f.File)
		return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
	}

	// 设置日志格式
	if config.Format == FormatText {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    config.Timestamp,
			DisableTimestamp: !config.Timestamp,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: prettyfier,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			DisableTimestamp: !config.Timestamp,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: prettyfier,
		})
	}

	logger.SetOutput(openOutput(&config))
	logger.SetReportCaller(config.Caller)

	return &StructuredLogger{
		logger: logger,
		entry:  logrus.NewEntry(logger),
		config: &config,
		mu:     &sync.RWMutex{},
	}
}

// openOutput 根据配置选择输出
func openOutput(config *Config) io.Writer {
	switch config.Output {
	case "stdout":
		return os.Stdout
	case "discard":
		return io.Discard
	case "file":
		if config.Filename == "" {
			config.Filename = DefaultConfig.Filename
		}

		// 确保日志目录存在
		if err := os.MkdirAll(filepath.Dir(config.Filename), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
			return os.Stderr
		}
		return &lumberjack.Logger{
			Filename:   config.Filename,
			MaxSize:    config.MaxSize,
			MaxAge:     config.MaxAge,
			MaxBackups: config.MaxBackups,
			Compress:   config.Compress,
		}
	default:
		return os.Stderr
	}
}

// NewNopLogger 创建丢弃所有输出的日志器
func NewNopLogger() Logger {
	cfg := DefaultConfig
	cfg.Output = "discard"
	cfg.Level = LevelError
	return NewLogger(cfg)
}

// Trace 记录trace级别日志
func (l *StructuredLogger) Trace(msg string, fields ...interface{}) {
	l.logWithFields(logrus.TraceLevel, msg, fields...)
}

// Debug 记录debug级别日志
func (l *StructuredLogger) Debug(msg string, fields ...interface{}) {
	l.logWithFields(logrus.DebugLevel, msg, fields...)
}

// Info 记录info级别日志
func (l *StructuredLogger) Info(msg string, fields ...interface{}) {
	l.logWithFields(logrus.InfoLevel, msg, fields...)
}

// Warn 记录warn级别日志
func (l *StructuredLogger) Warn(msg string, fields ...interface{}) {
	l.logWithFields(logrus.WarnLevel, msg, fields...)
}

// Error 记录error级别日志
func (l *StructuredLogger) Error(msg string, fields ...interface{}) {
	l.logWithFields(logrus.ErrorLevel, msg, fields...)
}

// WithField 添加单个字段
func (l *StructuredLogger) WithField(key string, value interface{}) Logger {
	return l.derive(l.entry.WithField(key, value))
}

// WithFields 添加多个字段
func (l *StructuredLogger) WithFields(fields map[string]interface{}) Logger {
	return l.derive(l.entry.WithFields(fields))
}

// WithContext 添加上下文
func (l *StructuredLogger) WithContext(ctx context.Context) Logger {
	entry := l.entry.WithContext(ctx)

	// 从上下文中提取运行标识
	for _, key := range []ContextKey{RunIDKey, StrategyKey, WindowKey} {
		if v := ctx.Value(key); v != nil {
			entry = entry.WithField(string(key), v)
		}
	}

	return l.derive(entry)
}

func (l *StructuredLogger) derive(entry *logrus.Entry) Logger {
	return &StructuredLogger{
		logger: l.logger,
		entry:  entry,
		config: l.config,
		mu:     l.mu,
	}
}

// SetLevel 设置日志级别
func (l *StructuredLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()

	logrusLevel, err := logrus.ParseLevel(string(level))
	if err != nil {
		return
	}

	l.logger.SetLevel(logrusLevel)
	l.config.Level = level
}

// GetLevel 获取日志级别
func (l *StructuredLogger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.config.Level
}

// logWithFields 记录带字段的日志
func (l *StructuredLogger) logWithFields(level logrus.Level, msg string, fields ...interface{}) {
	if !l.logger.IsLevelEnabled(level) {
		return
	}
	entry := l.entry

	// 处理字段参数
	if len(fields) > 0 {
		fieldMap := make(map[string]interface{}, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			if key, ok := fields[i].(string); ok {
				fieldMap[key] = fields[i+1]
			}
		}
		if len(fieldMap) > 0 {
			entry = entry.WithFields(fieldMap)
		}
	}

	entry.Log(level, msg)
}

// 全局日志器实例
var (
	globalMu     sync.RWMutex
	globalLogger = NewLogger(DefaultConfig)
)

// Init 初始化日志器
func Init(config Config) {
	SetGlobalLogger(NewLogger(config))
}

// SetGlobalLogger 设置全局日志器
func SetGlobalLogger(logger Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger 获取全局日志器
func GetGlobalLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Debug 记录debug级别日志
func Debug(msg string, fields ...interface{}) {
	GetGlobalLogger().Debug(msg, fields...)
}

// Info 记录info级别日志
func Info(msg string, fields ...interface{}) {
	GetGlobalLogger().Info(msg, fields...)
}

// Warn 记录warn级别日志
func Warn(msg string, fields ...interface{}) {
	GetGlobalLogger().Warn(msg, fields...)
}

// Error 记录error级别日志
func Error(msg string, fields ...interface{}) {
	GetGlobalLogger().Error(msg, fields...)
}

// WithField 添加单个字段
func WithField(key string, value interface{}) Logger {
	return GetGlobalLogger().WithField(key, value)
}

// WithContext 添加上下文
func WithContext(ctx context.Context) Logger {
	return GetGlobalLogger().WithContext(ctx)
}

// PerformanceLogger 性能日志记录器
type PerformanceLogger struct {
	logger    Logger
	warnAfter time.Duration
	errAfter  time.Duration
}

// NewPerformanceLogger 创建性能日志记录器
func NewPerformanceLogger(logger Logger) *PerformanceLogger {
	return &PerformanceLogger{
		logger:    logger,
		warnAfter: time.Minute,
		errAfter:  10 * time.Minute,
	}
}

// WithThresholds 设置告警阈值
func (pl *PerformanceLogger) WithThresholds(warnAfter, errAfter time.Duration) *PerformanceLogger {
	pl.warnAfter = warnAfter
	pl.errAfter = errAfter
	return pl
}

// LogPerformance 记录性能日志
func (pl *PerformanceLogger) LogPerformance(operation string, duration time.Duration, fields map[string]interface{}) {
	logFields := map[string]interface{}{
		"operation":   operation,
		"duration":    duration.String(),
		"duration_ms": duration.Milliseconds(),
	}

	// 合并额外字段
	for k, v := range fields {
		logFields[k] = v
	}

	msg := fmt.Sprintf("Performance: %s took %s", operation, duration.String())

	// 根据耗时选择日志级别
	switch {
	case duration > pl.errAfter:
		pl.logger.WithFields(logFields).Error(msg)
	case duration > pl.warnAfter:
		pl.logger.WithFields(logFields).Warn(msg)
	default:
		pl.logger.WithFields(logFields).Info(msg)
	}
}
