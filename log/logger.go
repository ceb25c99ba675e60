// Package log implements the structured logging facility shared by the nagare
// transport runtime. It exposes a fluent, pooled-event API
// (log.Info().Str("k","v").Msg("...")) with console and rotating-file
// appenders, built for low allocation pressure on per-frame hot paths.
package log

// Logger is the minimal surface an event needs from its owner, plus the
// level-gated constructors used by callers.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	Fatal() *LogEvent

	// IgnoreCheckLevel reports whether level filtering is bypassed for this
	// logger (used by whitelisted connection loggers).
	IgnoreCheckLevel() bool

	// AddAppender registers an additional output sink.
	AddAppender(appender LogAppender)

	// OnEventEnd receives a finished event, writes it to the appenders and
	// recycles it.
	OnEventEnd(e *LogEvent)
}

var _defaultLogger *EngineLogger

func init() {
	_defaultLogger = NewLogger(nil)
}

// SetDefaultLogger replaces the package-level logger.
func SetDefaultLogger(logger *EngineLogger) {
	_defaultLogger = logger
}

// DefaultLogger returns the package-level logger.
func DefaultLogger() *EngineLogger {
	return _defaultLogger
}

// AddAppender adds an appender to the package-level logger.
func AddAppender(appender LogAppender) {
	_defaultLogger.AddAppender(appender)
}

// Refresh flushes all appenders of the package-level logger.
func Refresh() {
	_defaultLogger.Refresh()
}

// Debug creates a debug-level event on the package-level logger.
func Debug() *LogEvent {
	return _defaultLogger.Debug()
}

// Info creates an info-level event on the package-level logger.
func Info() *LogEvent {
	return _defaultLogger.Info()
}

// Warn creates a warn-level event on the package-level logger.
func Warn() *LogEvent {
	return _defaultLogger.Warn()
}

// Error creates an error-level event on the package-level logger.
func Error() *LogEvent {
	return _defaultLogger.Error()
}

// Fatal creates a fatal-level event on the package-level logger. Finishing a
// fatal event panics after the line is written.
func Fatal() *LogEvent {
	return _defaultLogger.Fatal()
}
