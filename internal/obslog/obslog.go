package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var globalLogger = zap.NewNop()

// L returns the process logger. It is a no-op logger until Init succeeds.
func L() *zap.Logger { return globalLogger }

// Or returns l when set, otherwise the process logger.
func Or(l *zap.Logger) *zap.Logger {
	if l != nil {
		return l
	}
	return globalLogger
}

// Options selects where entries go and how they look.
type Options struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"`
	Caller bool   `env:"LOG_CALLER" envDefault:"false"`
	// File appends entries to a file on top of stderr.
	File string `env:"LOG_FILE"`
}

// InitFromEnv builds the process logger from LOG_* variables.
func InitFromEnv() error {
	var opts Options
	if err := env.Parse(&opts); err != nil {
		return fmt.Errorf("parse log env: %w", err)
	}
	return Init(opts)
}

// Init replaces the process logger. Entries always go to stderr so stdout
// stays free for the interactive client.
func Init(opts Options) error {
	logger, err := build(opts)
	if err != nil {
		return err
	}
	globalLogger = logger
	return nil
}

func build(opts Options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(opts.Level))
	if err != nil {
		level = zapcore.InfoLevel
	}
	enc := encoderFor(opts.Format)
	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)}
	if path := strings.TrimSpace(opts.File); path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(f), level))
	}

	zopts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if opts.Caller {
		zopts = append(zopts, zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), zopts...), nil
}

// Sync flushes buffered entries; errors from syncing terminals are ignored.
func Sync() {
	_ = globalLogger.Sync()
}

func encoderFor(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " | "
	return zapcore.NewConsoleEncoder(cfg)
}
