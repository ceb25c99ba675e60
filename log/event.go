package log

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// ObjectMarshaller allows complex types to append themselves to a log event
// as a set of fields without forcing an intermediate allocation.
type ObjectMarshaller interface {
	MarshalLogObj(e *LogEvent)
}

// LogEvent accumulates the fields of a single log line and flushes them to the
// owning logger's appenders when Msg/Msgf is called. Events are pooled by the
// logger; a nil receiver is valid on every method so that filtered-out levels
// cost nothing at the call site.
//
// The output is a single JSON object per line. Field order follows call order,
// with time/level/caller always first (added by the logger itself).
type LogEvent struct {
	logger Logger
	level  Level
	buf    bytes.Buffer
	fields int
}

func newEvent(logger Logger) *LogEvent {
	return &LogEvent{logger: logger}
}

// Reset clears the event for reuse from the pool.
func (e *LogEvent) Reset() {
	e.buf.Reset()
	e.fields = 0
	e.level = DebugLevel
}

// Buffer exposes the serialized bytes of the event. Appenders use this to
// write the finished line; the trailing newline is added by Msg.
func (e *LogEvent) Buffer() *bytes.Buffer {
	return &e.buf
}

// Level returns the severity this event was created with.
func (e *LogEvent) Level() Level {
	return e.level
}

func (e *LogEvent) key(k string) {
	if e.fields == 0 {
		e.buf.WriteByte('{')
	} else {
		e.buf.WriteByte(',')
	}
	e.fields++
	e.buf.WriteByte('"')
	e.buf.WriteString(k)
	e.buf.WriteString(`":`)
}

func (e *LogEvent) appendQuoted(s string) {
	b := strconv.AppendQuote(e.buf.AvailableBuffer(), s)
	e.buf.Write(b)
}

// Str adds a string field.
func (e *LogEvent) Str(k, v string) *LogEvent {
	if e == nil {
		return nil
	}
	e.key(k)
	e.appendQuoted(v)
	return e
}

// Int adds an int field.
func (e *LogEvent) Int(k string, v int) *LogEvent {
	if e == nil {
		return nil
	}
	e.key(k)
	e.buf.WriteString(strconv.Itoa(v))
	return e
}

// Int32 adds an int32 field.
func (e *LogEvent) Int32(k string, v int32) *LogEvent {
	if e == nil {
		return nil
	}
	return e.Int64(k, int64(v))
}

// Int64 adds an int64 field.
func (e *LogEvent) Int64(k string, v int64) *LogEvent {
	if e == nil {
		return nil
	}
	e.key(k)
	e.buf.WriteString(strconv.FormatInt(v, 10))
	return e
}

// Uint16 adds a uint16 field.
func (e *LogEvent) Uint16(k string, v uint16) *LogEvent {
	if e == nil {
		return nil
	}
	return e.Uint64(k, uint64(v))
}

// Uint64 adds a uint64 field.
func (e *LogEvent) Uint64(k string, v uint64) *LogEvent {
	if e == nil {
		return nil
	}
	e.key(k)
	e.buf.WriteString(strconv.FormatUint(v, 10))
	return e
}

// Bool adds a bool field.
func (e *LogEvent) Bool(k string, v bool) *LogEvent {
	if e == nil {
		return nil
	}
	e.key(k)
	e.buf.WriteString(strconv.FormatBool(v))
	return e
}

// Float64 adds a float64 field.
func (e *LogEvent) Float64(k string, v float64) *LogEvent {
	if e == nil {
		return nil
	}
	e.key(k)
	b := strconv.AppendFloat(e.buf.AvailableBuffer(), v, 'f', -1, 64)
	e.buf.Write(b)
	return e
}

// Err adds an "error" field. A nil error adds nothing.
func (e *LogEvent) Err(err error) *LogEvent {
	if e == nil || err == nil {
		return e
	}
	return e.Str("error", err.Error())
}

// Time adds a timestamp field in RFC3339 format with millisecond precision.
func (e *LogEvent) Time(k string, t *time.Time) *LogEvent {
	if e == nil {
		return nil
	}
	e.key(k)
	e.buf.WriteByte('"')
	b := t.AppendFormat(e.buf.AvailableBuffer(), "2006-01-02T15:04:05.000Z07:00")
	e.buf.Write(b)
	e.buf.WriteByte('"')
	return e
}

// Dur adds a duration field rendered in milliseconds.
func (e *LogEvent) Dur(k string, d time.Duration) *LogEvent {
	if e == nil {
		return nil
	}
	return e.Float64(k, float64(d)/float64(time.Millisecond))
}

// Obj lets v append its own fields to the event.
func (e *LogEvent) Obj(v ObjectMarshaller) *LogEvent {
	if e == nil || v == nil {
		return e
	}
	v.MarshalLogObj(e)
	return e
}

// Msg finalizes the event with a message and hands it to the logger's
// appenders. The event must not be used after Msg returns.
func (e *LogEvent) Msg(msg string) {
	if e == nil {
		return
	}
	e.key("msg")
	e.appendQuoted(msg)
	e.buf.WriteByte('}')
	e.buf.WriteByte('\n')
	e.logger.OnEventEnd(e)
}

// Msgf finalizes the event with a formatted message.
func (e *LogEvent) Msgf(format string, args ...any) {
	if e == nil {
		return
	}
	e.Msg(fmt.Sprintf(format, args...))
}
