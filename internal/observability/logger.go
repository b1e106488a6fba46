package observability

import (
	"math/rand"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultServiceName names the logger when no service name is configured.
const DefaultServiceName = "adselection"

// InitLogger constructs a production zap.Logger using the level derived
// from ENV and LOG_LEVEL.
func InitLogger() (*zap.Logger, error) {
	return InitLoggerWithService(DefaultServiceName)
}

// InitLoggerWithService constructs a production zap.Logger for serviceName.
// The returned logger should be passed to other components for structured logging.
func InitLoggerWithService(serviceName string) (*zap.Logger, error) {
	level := LevelFor(os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))
	return InitLoggerWithLevel(level, serviceName)
}

// InitLoggerWithLevel constructs a zap.Logger at the provided level.
// The returned logger is named with the service name and installed as the global logger.
func InitLoggerWithLevel(level zapcore.Level, serviceName string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)

	// Field names expected by the log shipper
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.NameKey = "logger"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	logger = logger.Named(serviceName).With(zap.String("service", serviceName))
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// LevelFor picks the log level. An explicit logLevel (DEBUG, INFO, WARN,
// ERROR) wins; otherwise development environments log at debug and
// everything else at info.
func LevelFor(env, logLevel string) zapcore.Level {
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		return zap.DebugLevel
	case "INFO":
		return zap.InfoLevel
	case "WARN":
		return zap.WarnLevel
	case "ERROR":
		return zap.ErrorLevel
	}
	switch strings.ToLower(env) {
	case "development", "dev":
		return zap.DebugLevel
	default:
		return zap.InfoLevel
	}
}

var (
	sampledTotal atomic.Int64
	sampledKept  atomic.Int64
)

// ShouldSample returns true if a hot path log line should be written.
// rate is between 0.0 and 1.0 (0.1 keeps about 10% of lines).
func ShouldSample(rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	keep := rand.Float64() < rate
	sampledTotal.Add(1)
	if keep {
		sampledKept.Add(1)
	}
	return keep
}

// GetSamplingRate returns the hot path sampling rate for the environment.
func GetSamplingRate() float64 {
	switch strings.ToLower(os.Getenv("ENV")) {
	case "development", "dev":
		return 1.0
	case "staging", "test":
		return 0.5
	default:
		return 0.1
	}
}

// LogSamplingStats writes how many sampled log lines were kept so far.
func LogSamplingStats(logger *zap.Logger) {
	total := sampledTotal.Load()
	if total == 0 {
		return
	}
	kept := sampledKept.Load()
	logger.Info("sampling stats",
		zap.Int64("total_logs", total),
		zap.Int64("sampled_logs", kept),
		zap.Float64("actual_rate", float64(kept)/float64(total)),
	)
}
