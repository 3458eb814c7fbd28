// File: internal/observability/logger.go
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/aquario/internal/config"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

const (
	colorGreen = "\x1b[32m"
	colorReset = "\x1b[0m"
)

// ansi maps a configured color name to its escape sequence. Unknown names
// disable coloring for that level.
func ansi(name string) string {
	switch strings.ToLower(name) {
	case "red":
		return "\x1b[31m"
	case "green":
		return colorGreen
	case "yellow":
		return "\x1b[33m"
	case "blue":
		return "\x1b[34m"
	case "magenta":
		return "\x1b[35m"
	case "cyan":
		return "\x1b[36m"
	case "white":
		return "\x1b[37m"
	}
	return ""
}

// NewLogger builds a logger from configuration without installing it globally.
// Console output goes to console; if cfg.LogFile is set, every entry is also
// appended as JSON to a lumberjack-rotated file.
func NewLogger(cfg config.LoggerConfig, console zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	tee := []zapcore.Core{zapcore.NewCore(newEncoder(cfg.Format, cfg.Colors), console, level)}
	if cfg.LogFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		tee = append(tee, zapcore.NewCore(newEncoder("json", cfg.Colors), zapcore.AddSync(rotated), level))
	}

	opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}
	logger := zap.New(zapcore.NewTee(tee...), opts...)
	if cfg.ServiceName != "" {
		logger = logger.Named(cfg.ServiceName)
	}
	return logger
}

// Initialize installs the global logger. Only the first call has any effect.
func Initialize(cfg config.LoggerConfig, console zapcore.WriteSyncer) {
	once.Do(func() {
		logger := NewLogger(cfg, console)
		globalLogger.Store(logger)
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger logs to a locked stderr so stdout stays free for
// observation shapes, rewards and reports.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stderr))
}

// ResetForTest clears the global logger so Initialize can run again.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

func levelEncoder(colors config.ColorConfig) zapcore.LevelEncoder {
	byLevel := map[zapcore.Level]string{
		zapcore.DebugLevel:  ansi(colors.Debug),
		zapcore.InfoLevel:   ansi(colors.Info),
		zapcore.WarnLevel:   ansi(colors.Warn),
		zapcore.ErrorLevel:  ansi(colors.Error),
		zapcore.DPanicLevel: ansi(colors.DPanic),
		zapcore.PanicLevel:  ansi(colors.Panic),
		zapcore.FatalLevel:  ansi(colors.Fatal),
	}
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		name := strings.ToUpper(l.String())
		if c := byLevel[l]; c != "" {
			name = c + name + colorReset
		}
		enc.AppendString(name)
	}
}

// newEncoder returns a colorized console encoder for "console" and a JSON
// encoder for anything else.
func newEncoder(format string, colors config.ColorConfig) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	if format != "console" {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = levelEncoder(colors)
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(ec)
}

// GetLogger returns the global logger, or a development logger if none was installed.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Global logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// Sync flushes buffered entries. Call it before exiting.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !ignorableSyncError(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

// ignorableSyncError reports errors from syncing a terminal, which some
// platforms do not support.
func ignorableSyncError(err error) bool {
	msg := err.Error()
	for _, s := range []string{"sync /dev/std", "invalid argument", "inappropriate ioctl", "operation not supported"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
