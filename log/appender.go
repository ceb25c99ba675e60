package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogAppender is the output sink of a logger. A logger fans every finished
// event out to all of its appenders.
type LogAppender interface {
	// Write outputs one serialized log line. Implementations must be safe for
	// concurrent use.
	Write(p []byte) (int, error)

	// Refresh forces buffered data to its destination and re-evaluates
	// rotation state. Called on logger refresh and configuration reload.
	Refresh()
}

// ConsoleAppender writes log lines to stdout.
type ConsoleAppender struct {
	mu sync.Mutex
}

// NewConsoleAppender creates a stdout appender.
func NewConsoleAppender() *ConsoleAppender {
	return &ConsoleAppender{}
}

// Write outputs the line to stdout.
func (a *ConsoleAppender) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return os.Stdout.Write(p)
}

// Refresh is a no-op for the console.
func (a *ConsoleAppender) Refresh() {}

// FileAppender writes log lines to a file with size-based rotation and an
// optional asynchronous write path. In async mode lines are buffered on a
// channel and flushed by a background goroutine, keeping the logging call
// site free of file I/O.
type FileAppender struct {
	mu       sync.Mutex
	path     string
	splitMB  int
	file     *os.File
	written  int64
	async    bool
	lineCh   chan []byte
	closeCh  chan struct{}
	closedWG sync.WaitGroup
}

// NewFileAppender creates a file appender from the logger configuration.
// The target directory is created if missing; open failures degrade to a
// dropped-output appender rather than failing logger construction.
func NewFileAppender(cfg *LogCfg) *FileAppender {
	a := &FileAppender{
		path:    cfg.LogPath,
		splitMB: cfg.FileSplitMB,
		async:   cfg.IsAsync,
	}

	if a.async {
		size := cfg.AsyncCacheSize
		if size <= 0 {
			size = 1024
		}
		interval := cfg.AsyncWriteMillSec
		if interval <= 0 {
			interval = 200
		}
		a.lineCh = make(chan []byte, size)
		a.closeCh = make(chan struct{})
		a.closedWG.Add(1)
		go a.flushLoop(time.Duration(interval) * time.Millisecond)
	}

	return a
}

// Write outputs one line, rotating first if the size threshold is exceeded.
// In async mode the line is copied and queued; when the queue is full the
// line is dropped instead of blocking the caller.
func (a *FileAppender) Write(p []byte) (int, error) {
	if a.async {
		line := make([]byte, len(p))
		copy(line, p)
		select {
		case a.lineCh <- line:
		default:
		}
		return len(p), nil
	}
	return a.write(p)
}

func (a *FileAppender) write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureOpen(); err != nil {
		return 0, err
	}
	if a.splitMB > 0 && a.written+int64(len(p)) > int64(a.splitMB)*1024*1024 {
		a.rotate()
		if err := a.ensureOpen(); err != nil {
			return 0, err
		}
	}

	n, err := a.file.Write(p)
	a.written += int64(n)
	return n, err
}

func (a *FileAppender) ensureOpen() error {
	if a.file != nil {
		return nil
	}
	if dir := filepath.Dir(a.path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err == nil {
		a.written = info.Size()
	}
	a.file = f
	return nil
}

// rotate renames the current file with a timestamp suffix and resets state.
func (a *FileAppender) rotate() {
	if a.file != nil {
		_ = a.file.Close()
		a.file = nil
	}
	ext := filepath.Ext(a.path)
	base := a.path[:len(a.path)-len(ext)]
	rotated := fmt.Sprintf("%s.%s%s", base, time.Now().Format("20060102-150405"), ext)
	_ = os.Rename(a.path, rotated)
	a.written = 0
}

func (a *FileAppender) flushLoop(interval time.Duration) {
	defer a.closedWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case line := <-a.lineCh:
			_, _ = a.write(line)
		case <-ticker.C:
			a.drain()
		case <-a.closeCh:
			a.drain()
			return
		}
	}
}

func (a *FileAppender) drain() {
	for {
		select {
		case line := <-a.lineCh:
			_, _ = a.write(line)
		default:
			return
		}
	}
}

// Refresh flushes pending async lines and syncs the file.
func (a *FileAppender) Refresh() {
	if a.async {
		a.drain()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		_ = a.file.Sync()
	}
}

// Close stops the async flusher and closes the file.
func (a *FileAppender) Close() {
	if a.async {
		close(a.closeCh)
		a.closedWG.Wait()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		_ = a.file.Close()
		a.file = nil
	}
}
