package log

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// EngineLogger is the concrete logger used throughout the transport runtime.
// It is safe for concurrent use: events are drawn from a sync.Pool, the level
// check is a single atomic load, and appender writes happen once per finished
// event. Caller information is resolved lazily and cached per program counter.
type EngineLogger struct {
	appenders         []LogAppender
	minLevel          atomic.Uint32
	callerSkip        int
	enabledCallerInfo bool
	eventPool         *sync.Pool
	callerCache       sync.Map // pc -> string "pkg/file.go:123"
}

// NewLogger creates an EngineLogger from the given configuration. A nil cfg
// uses the package defaults (debug level, console output).
func NewLogger(cfg *LogCfg) *EngineLogger {
	if cfg == nil {
		cfg = getDefaultCfg()
	}

	logger := &EngineLogger{
		callerSkip:        cfg.CallerSkip,
		enabledCallerInfo: cfg.EnabledCallerInfo,
	}
	logger.minLevel.Store(uint32(cfg.Level()))
	logger.eventPool = &sync.Pool{
		New: func() any {
			return newEvent(logger)
		},
	}

	if cfg.FileAppender {
		logger.AddAppender(NewFileAppender(cfg))
	}
	if cfg.ConsoleAppender {
		logger.AddAppender(NewConsoleAppender())
	}

	return logger
}

// SetLevel changes the minimum level at runtime (hot-reload path).
func (x *EngineLogger) SetLevel(level Level) {
	x.minLevel.Store(uint32(level))
}

func (x *EngineLogger) checkLevel(level Level) bool {
	return Level(x.minLevel.Load()) <= level
}

// AddAppender registers an additional output sink. Not safe to call
// concurrently with logging; wire appenders up during initialization.
func (x *EngineLogger) AddAppender(appender LogAppender) {
	x.appenders = append(x.appenders, appender)
}

// Refresh flushes every registered appender.
func (x *EngineLogger) Refresh() {
	for _, appender := range x.appenders {
		appender.Refresh()
	}
}

// IgnoreCheckLevel implements Logger. The engine logger always filters.
func (x *EngineLogger) IgnoreCheckLevel() bool {
	return false
}

// OnEventEnd writes a finished event to all appenders and returns it to the
// pool. Fatal events panic after the line is out.
func (x *EngineLogger) OnEventEnd(e *LogEvent) {
	for _, appender := range x.appenders {
		_, _ = appender.Write(e.Buffer().Bytes())
	}

	level := e.Level()
	x.eventPool.Put(e)
	if level == FatalLevel {
		panic("fatal log event")
	}
}

// Debug creates a debug-level event, or nil if filtered.
func (x *EngineLogger) Debug() *LogEvent { return x.log(DebugLevel) }

// Info creates an info-level event, or nil if filtered.
func (x *EngineLogger) Info() *LogEvent { return x.log(InfoLevel) }

// Warn creates a warn-level event, or nil if filtered.
func (x *EngineLogger) Warn() *LogEvent { return x.log(WarnLevel) }

// Error creates an error-level event, or nil if filtered.
func (x *EngineLogger) Error() *LogEvent { return x.log(ErrorLevel) }

// Fatal creates a fatal-level event; finishing it panics.
func (x *EngineLogger) Fatal() *LogEvent { return x.log(FatalLevel) }

func (x *EngineLogger) log(level Level) *LogEvent {
	if !x.IgnoreCheckLevel() && !x.checkLevel(level) {
		return nil
	}
	return x.prepare(level)
}

// prepare stamps the common fields of a fresh event. Split from log so that
// derived loggers (ConnLogger) can gate levels themselves.
func (x *EngineLogger) prepare(level Level) *LogEvent {
	e := x.eventPool.Get().(*LogEvent)
	e.Reset()
	e.level = level

	t := time.Now()
	e.Time("time", &t)
	e.Str("level", level.String())

	if x.enabledCallerInfo {
		e.Str("caller", x.callerInfo())
	}
	return e
}

// callerInfo resolves "dir/file.go:line" for the logging call site, caching
// the file portion per program counter.
func (x *EngineLogger) callerInfo() string {
	pc, file, line, ok := runtime.Caller(4 + x.callerSkip)
	if !ok {
		return "unknown"
	}

	if cached, found := x.callerCache.Load(pc); found {
		return cached.(string)
	}

	// Trim to the last two path elements, zerolog-style.
	if idx := strings.LastIndexByte(file, '/'); idx > 0 {
		if idx2 := strings.LastIndexByte(file[:idx], '/'); idx2 >= 0 {
			file = file[idx2+1:]
		}
	}

	info := file + ":" + strconv.Itoa(line)
	x.callerCache.Store(pc, info)
	return info
}
