// Package logging builds the service logger: a console core plus two rotating
// file sinks, combined.log (info and above) and error.log (errors only).
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxLogSizeMB = 10
	maxBackups   = 5
)

// Options control logger construction.
type Options struct {
	// Dir is where combined.log and error.log are written. Empty disables the
	// file sinks (console only), which the tests use.
	Dir string

	// Debug lowers the console threshold to debug level.
	Debug bool
}

// New constructs the service logger. The returned function flushes buffered
// entries and is suitable for defer in main.
func New(opts Options) (*zap.Logger, func()) {
	consoleLevel := zapcore.InfoLevel
	if opts.Debug {
		consoleLevel = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			consoleLevel,
		),
	}

	if opts.Dir != "" {
		jsonEnc := zapcore.NewJSONEncoder(encCfg)
		cores = append(cores,
			zapcore.NewCore(jsonEnc, rotatingSink(filepath.Join(opts.Dir, "combined.log")), zapcore.InfoLevel),
			zapcore.NewCore(jsonEnc, rotatingSink(filepath.Join(opts.Dir, "error.log")), zapcore.ErrorLevel),
		)
	}

	logger := zap.New(zapcore.NewTee(cores...))
	return logger, func() { _ = logger.Sync() }
}

func rotatingSink(path string) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxBackups,
	})
}
