package log

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// L is the global sugared logger used throughout blobseen.
var L = zap.NewNop().Sugar()

// ParseLevel maps debug|info|warn|error to a zap level; anything else is info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a logger writing to w.
// format: json|console; empty means json.
func New(level, format string, w zapcore.WriteSyncer) (*zap.SugaredLogger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(format) {
	case "console":
		enc = zapcore.NewConsoleEncoder(encCfg)
	case "json", "":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("log: unknown format %q", format)
	}

	core := zapcore.NewCore(enc, w, ParseLevel(level))
	// Callers log through L directly, so no caller skip.
	return zap.New(core, zap.AddCaller()).Sugar(), nil
}

// InitWithConfig replaces L with a logger writing to stderr.
func InitWithConfig(level, format string) error {
	l, err := New(level, format, zapcore.Lock(os.Stderr))
	if err != nil {
		return err
	}
	L = l
	return nil
}

// Sync flushes buffered logs.
func Sync() {
	if L != nil {
		_ = L.Sync()
	}
}
