package logger

import "go.uber.org/zap/zapcore"

// Verbosity counts of the -v flag.
const (
	VerbosityUser  = 0 // results and errors only
	VerbosityInfo  = 1 // -v: lifecycle and sync progress
	VerbosityDebug = 2 // -vv: per-message and per-event detail
	VerbosityTrace = 3 // -vvv: full update dumps
)

// VerbosityToLevel maps a -v count to a zap level:
//
//	0 (none)  -> WarnLevel
//	1 (-v)    -> InfoLevel
//	2+ (-vv)  -> DebugLevel
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity <= VerbosityUser:
		return zapcore.WarnLevel
	case verbosity == VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// ShouldLogTrace reports whether commands should print whole updates.
func ShouldLogTrace(verbosity int) bool {
	return verbosity >= VerbosityTrace
}

// EffectiveLevel picks the level for a long-running process: an explicit -v
// count wins over the configured level.
func EffectiveLevel(verbosity int, configured zapcore.Level) zapcore.Level {
	if verbosity > VerbosityUser {
		return VerbosityToLevel(verbosity)
	}
	return configured
}
