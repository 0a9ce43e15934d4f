package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global logger instance
	Logger *zap.SugaredLogger
	// Flag to track if JSON output is enabled
	JSONOutput bool

	// level is shared by every core built here, so SetLevel applies to
	// component loggers handed out before the change.
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	// Safe no-op logger so packages can log before Initialize is called
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger at info level.
func Initialize(jsonOutput bool) error {
	return InitializeWithLevel(jsonOutput, zapcore.InfoLevel)
}

// InitializeWithLevel sets up the global logger on stderr.
func InitializeWithLevel(jsonOutput bool, lvl zapcore.Level) error {
	return InitializeWithWriter(os.Stderr, jsonOutput, lvl)
}

// InitializeWithWriter sets up the global logger writing to w. JSON output
// uses zap's production encoder, console output the minimal encoder.
func InitializeWithWriter(w io.Writer, jsonOutput bool, lvl zapcore.Level) error {
	JSONOutput = jsonOutput
	level.SetLevel(lvl)

	if theme := os.Getenv("STATETREE_LOG_THEME"); theme != "" {
		SetTheme(theme)
	}

	var enc zapcore.Encoder
	if jsonOutput {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		enc = newMinimalEncoder()
	}

	Logger = zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), level)).Sugar()
	return nil
}

// SetLevel changes the minimum level of the global logger and every logger
// derived from it.
func SetLevel(lvl zapcore.Level) {
	level.SetLevel(lvl)
}

// Level reports the current minimum level.
func Level() zapcore.Level {
	return level.Level()
}

// Cleanup flushes any buffered log entries
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
