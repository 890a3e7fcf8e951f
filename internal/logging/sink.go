package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level is the severity of an operator-facing log line.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Sink receives operator-facing log lines (who did what). It is separate
// from the diagnostic zap stream so the desktop shell can show and page it.
type Sink interface {
	Write(message, actor string, level Level)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(message, actor string, level Level)

func (f SinkFunc) Write(message, actor string, level Level) { f(message, actor, level) }

// NopSink drops everything.
var NopSink Sink = SinkFunc(func(string, string, Level) {})

const anonymousActor = "anonymous"

// WriterSink formats lines as "[2006-01-02 15:04:05] [LEVEL] [actor] message"
// and appends them to an io.Writer. Every line is mirrored to the zap logger.
type WriterSink struct {
	mu       sync.Mutex
	out      io.Writer
	minLevel Level
	now      func() time.Time
}

// NewWriterSink creates a sink writing to out. Lines below minLevel are dropped.
func NewWriterSink(out io.Writer, minLevel Level) *WriterSink {
	return &WriterSink{out: out, minLevel: minLevel, now: time.Now}
}

// NewFileSink creates a sink writing to a rotating file.
func NewFileSink(path string, minLevel Level) *WriterSink {
	return NewWriterSink(NewRotatingWriter(path, 0, 0, 0), minLevel)
}

// Write implements Sink.
func (s *WriterSink) Write(message, actor string, level Level) {
	if level < s.minLevel {
		return
	}
	if strings.TrimSpace(actor) == "" {
		actor = anonymousActor
	}

	line := fmt.Sprintf("[%s] [%s] [%s] %s\n", s.now().Format("2006-01-02 15:04:05"), level, actor, message)

	s.mu.Lock()
	_, err := io.WriteString(s.out, line)
	s.mu.Unlock()

	fields := []zap.Field{zap.String("actor", actor)}
	switch level {
	case LevelError:
		Error(message, fields...)
	case LevelWarning:
		Warn(message, fields...)
	default:
		Info(message, fields...)
	}
	if err != nil {
		Warn("Failed to write log sink line", zap.Error(err))
	}
}
