package log

// LogCfg is the logging configuration for the transport runtime. It is loaded
// through the config package and supports hot reload of the log level and
// appender settings without restarting the process.
type LogCfg struct {
	// LogPath is the target file for file-based output. Relative and absolute
	// paths are accepted; missing directories are created on first write.
	LogPath string `mapstructure:"path"`

	// LogLevelName is the minimum severity that will be emitted
	// ("debug", "info", "warn", "error", "fatal").
	LogLevelName string `mapstructure:"level"`

	// FileSplitMB rotates the log file when it exceeds this size in megabytes.
	// Zero disables size-based rotation.
	FileSplitMB int `mapstructure:"splitmb"`

	// IsAsync moves file writes off the logging call site onto a background
	// flusher. Recommended for latency-sensitive paths such as the per-frame
	// socket drains.
	IsAsync bool `mapstructure:"isasync"`

	// AsyncCacheSize bounds the number of buffered lines in async mode.
	// Lines beyond the bound are dropped rather than blocking the caller.
	AsyncCacheSize int `mapstructure:"asynccachesize"`

	// AsyncWriteMillSec is the flush interval of the async writer.
	AsyncWriteMillSec int `mapstructure:"asyncwritemillsec"`

	// CallerSkip adjusts the stack depth used when resolving caller info,
	// for wrapper layers that forward to this logger.
	CallerSkip int `mapstructure:"callerSkip"`

	// EnabledCallerInfo adds a "caller" field (file:line) to every event.
	EnabledCallerInfo bool `mapstructure:"enabledCallerInfo"`

	// FileAppender enables file output.
	FileAppender bool `mapstructure:"fileAppender"`

	// ConsoleAppender enables stdout output.
	ConsoleAppender bool `mapstructure:"consoleAppender"`

	// ConnWhiteList lists connection ids that bypass level filtering in
	// ConnLogger instances, for targeted debugging of a single peer.
	ConnWhiteList []int `mapstructure:"connWhiteList"`

	// ConnFileLog additionally writes ConnLogger output to a per-connection
	// file next to LogPath.
	ConnFileLog bool `mapstructure:"connFileLog"`

	connWhiteListSet map[int]struct{} `mapstructure:"-"`
}

// GetName implements config.Config.
func (cfg *LogCfg) GetName() string { return "logger" }

// Validate implements config.Config. All fields have workable zero values.
func (cfg *LogCfg) Validate() error { return nil }

// Level resolves the configured level name.
func (cfg *LogCfg) Level() Level {
	if cfg.LogLevelName == "" {
		return DebugLevel
	}
	return ParseLevel(cfg.LogLevelName)
}

// IsInWhiteList reports whether a connection id bypasses level filtering.
func (cfg *LogCfg) IsInWhiteList(connID int) bool {
	if len(cfg.connWhiteListSet) == 0 && len(cfg.ConnWhiteList) != 0 {
		cfg.connWhiteListSet = make(map[int]struct{}, len(cfg.ConnWhiteList))
		for _, id := range cfg.ConnWhiteList {
			cfg.connWhiteListSet[id] = struct{}{}
		}
	}
	_, ok := cfg.connWhiteListSet[connID]
	return ok
}

var _defaultCfg = &LogCfg{
	LogPath:         "./nagare.log",
	LogLevelName:    "debug",
	FileSplitMB:     50,
	IsAsync:         true,
	CallerSkip:      0,
	ConsoleAppender: true,
}

func getDefaultCfg() *LogCfg {
	return _defaultCfg
}
