package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tobert/pmda-agent/internal/options"
)

// StderrLogfile as the --logfile value logs to stderr only.
const StderrLogfile = "-"

// NewLogger builds the agent logger. Records go to the log file through a
// rotating writer and to stderr; stdout is left alone because it may be the
// collector pipe.
func NewLogger(cfg *Config, agent string, opts *options.AgentConfig, stderr io.Writer) (*zap.Logger, error) {
	if stderr == nil {
		stderr = os.Stderr
	}

	level := zapcore.InfoLevel
	if opts.Debug != "" {
		level = zapcore.DebugLevel
	}

	consoleConfig := zap.NewDevelopmentEncoderConfig()
	consoleConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), zapcore.AddSync(stderr), level),
	}

	logfile := opts.Logfile
	if logfile == "" {
		logfile = cfg.LogPath(agent)
	}
	if logfile != StderrLogfile {
		if err := os.MkdirAll(filepath.Dir(logfile), 0o755); err != nil {
			return nil, err
		}
		writer := &lumberjack.Logger{
			Filename:   logfile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   cfg.LogCompress,
		}
		// lumberjack opens lazily; create the file now, before --username
		// drops privileges.
		if _, err := writer.Write(nil); err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", logfile, err)
		}

		fileConfig := zap.NewProductionEncoderConfig()
		fileConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		fileConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileConfig), zapcore.AddSync(writer), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if opts.Debug != "" {
		logger = logger.With(zap.Strings("debug", strings.Split(opts.Debug, ",")))
	}
	logger.Debug("logger initialized", zap.String("log_file", logfile), zap.Stringer("level", level))
	return logger, nil
}
