package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"behavior-session-backend/config"
)

// New builds the process logger. When cfg.Directory is set, output is also
// written to <directory>/<timestamp>_<name>.log.
func New(cfg config.LoggingConfig, name string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = cfg.Encoding
	zc.Sampling = nil
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Encoding == "console" {
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	zc.OutputPaths = []string{"stdout"}

	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
			// Only the file sink is lost.
			fmt.Fprintf(os.Stderr, "log directory %s unavailable: %v; not logging to file\n", cfg.Directory, err)
		} else {
			stamp := time.Now().Format("2006-01-02_15-04-05")
			zc.OutputPaths = append(zc.OutputPaths, filepath.Join(cfg.Directory, fmt.Sprintf("%s_%s.log", stamp, name)))
		}
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Named(name), nil
}

// ForSession returns a child logger tagged with the session identifier.
func ForSession(logger *zap.Logger, sessionID string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(zap.String("session", sessionID))
}

// OrNop never returns nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
