package log

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ConnLogger decorates an EngineLogger with a connection id, stamping every
// event with a "conn" field so that one peer's traffic can be followed
// through the transport logs. Whitelisted connection ids bypass the level
// filter entirely, which allows verbose tracing of a single misbehaving peer
// in production without lowering the global level.
//
// When ConnFileLog is enabled the logger additionally writes to a dedicated
// per-connection file derived from the base log path
// (nagare.log -> nagare_7.log for connection 7).
type ConnLogger struct {
	*EngineLogger
	connID      int
	inWhiteList bool
}

// NewConnLogger creates a logger bound to one connection id.
func NewConnLogger(cfg *LogCfg, connID int) *ConnLogger {
	if cfg == nil {
		cfg = getDefaultCfg()
	}

	base := NewLogger(cfg)
	cl := &ConnLogger{
		EngineLogger: base,
		connID:       connID,
		inWhiteList:  cfg.IsInWhiteList(connID),
	}

	if cfg.ConnFileLog && cfg.LogPath != "" {
		connCfg := *cfg
		ext := filepath.Ext(connCfg.LogPath)
		stem := strings.TrimSuffix(connCfg.LogPath, ext)
		connCfg.LogPath = fmt.Sprintf("%s_%d%s", stem, connID, ext)
		cl.AddAppender(NewFileAppender(&connCfg))
	}

	return cl
}

// IgnoreCheckLevel reports whether this connection bypasses level filtering.
func (x *ConnLogger) IgnoreCheckLevel() bool {
	return x.inWhiteList
}

func (x *ConnLogger) log(level Level) *LogEvent {
	if !x.IgnoreCheckLevel() && !x.checkLevel(level) {
		return nil
	}
	return x.prepare(level).Int("conn", x.connID)
}

// Debug creates a debug-level event tagged with the connection id.
func (x *ConnLogger) Debug() *LogEvent { return x.log(DebugLevel) }

// Info creates an info-level event tagged with the connection id.
func (x *ConnLogger) Info() *LogEvent { return x.log(InfoLevel) }

// Warn creates a warn-level event tagged with the connection id.
func (x *ConnLogger) Warn() *LogEvent { return x.log(WarnLevel) }

// Error creates an error-level event tagged with the connection id.
func (x *ConnLogger) Error() *LogEvent { return x.log(ErrorLevel) }

// Fatal creates a fatal-level event tagged with the connection id.
func (x *ConnLogger) Fatal() *LogEvent { return x.log(FatalLevel) }
