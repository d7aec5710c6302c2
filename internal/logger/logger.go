// Package logger builds the hclog loggers used by encore sessions and hosts.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
)

// Callback receives one formatted log line, without the trailing newline.
type Callback func(message string)

// Sink is an io.Writer that forwards each log line to a replaceable
// callback. Without a callback lines go to the fallback writer.
type Sink struct {
	cb       atomic.Pointer[Callback]
	mu       sync.Mutex
	fallback io.Writer
}

// NewSink creates a sink writing to fallback until a callback is set. A nil
// fallback means stderr.
func NewSink(fallback io.Writer) *Sink {
	if fallback == nil {
		fallback = os.Stderr
	}
	return &Sink{fallback: fallback}
}

// SetCallback replaces the callback. nil restores the fallback writer.
func (s *Sink) SetCallback(cb Callback) {
	if cb == nil {
		s.cb.Store(nil)
		return
	}
	s.cb.Store(&cb)
}

func (s *Sink) Write(p []byte) (int, error) {
	if cb := s.cb.Load(); cb != nil {
		for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
			(*cb)(line)
		}
		return len(p), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback.Write(p)
}

// LevelForVerbosity maps an engine verbosity to a log level: 0 info,
// 1 debug, 2 and above trace.
func LevelForVerbosity(v int) hclog.Level {
	switch {
	case v <= 0:
		return hclog.Info
	case v == 1:
		return hclog.Debug
	}
	return hclog.Trace
}

// Options configures New.
type Options struct {
	Name   string
	Level  hclog.Level
	JSON   bool
	Output io.Writer
}

// New creates a root logger.
func New(opts Options) hclog.Logger {
	if opts.Name == "" {
		opts.Name = "encore"
	}
	if opts.Level == hclog.NoLevel {
		opts.Level = hclog.Info
	}
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       opts.Name,
		Level:      opts.Level,
		Output:     opts.Output,
		JSONFormat: opts.JSON,
	})
}

// ParseLevel wraps hclog.LevelFromString, defaulting to info.
func ParseLevel(s string) hclog.Level {
	if l := hclog.LevelFromString(s); l != hclog.NoLevel {
		return l
	}
	return hclog.Info
}
