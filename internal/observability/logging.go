package observability

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewWorkerLogger builds the logger for one worker instance. Output goes
// to <logDir>/<identity>.log as JSON. lumberjack rotates by size only, so
// the 7-day retention is enforced through MaxAge on rotated archives
// rather than a daily rollover. In debug mode everything is also teed to
// stdout with a console encoder.
func NewWorkerLogger(logDir, identity, level string, debug bool) (*zap.Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	parsedLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		parsedLevel = zapcore.InfoLevel
	}
	if debug {
		parsedLevel = zapcore.DebugLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	rotating := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, identity+".log"),
		MaxSize:    100, // megabytes
		MaxAge:     7,   // days
		MaxBackups: 7,
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotating), parsedLevel),
	}

	if debug {
		consoleConfig := zap.NewDevelopmentEncoderConfig()
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores,
			zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), zapcore.AddSync(os.Stdout), parsedLevel))
	}

	logger := zap.New(zapcore.NewTee(cores...)).With(zap.Int("pid", os.Getpid()))
	return logger, nil
}
