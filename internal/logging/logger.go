package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a logger that writes JSON to logPath and a console rendering
// to stderr. Profile name and PID are attached to every entry.
func New(logPath, profileName string) (*zap.Logger, error) {
	file, err := openLogFile(logPath)
	if err != nil {
		return nil, err
	}

	encoderCfg := encoderConfig()
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), zapcore.InfoLevel)
	stderrCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stderr), zapcore.InfoLevel)

	return zap.New(zapcore.NewTee(fileCore, stderrCore), baseFields(profileName)), nil
}

// NewFileOnly is used by the console, which owns the terminal and cannot
// share stderr with log output.
func NewFileOnly(logPath, profileName string, level zapcore.Level) (*zap.Logger, error) {
	file, err := openLogFile(logPath)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(file), level)
	return zap.New(core, baseFields(profileName)), nil
}

func openLogFile(logPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, err
	}
	return os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func baseFields(profileName string) zap.Option {
	return zap.Fields(
		zap.String("profile", profileName),
		zap.Int("pid", os.Getpid()),
	)
}
