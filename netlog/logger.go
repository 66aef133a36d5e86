// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package netlog provides a minimal leveled logger used throughout the
// engine. It wraps the standard library's log.Logger rather than pulling
// in a structured-logging dependency, matching the teacher's own style of
// ad-hoc Info/Warn/Error calls.
package netlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Level is a log severity.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses the CLI -l flag values.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return 0, fmt.Errorf("netlog: unknown level %q", s)
	}
}

// Logger is a small leveled logger; safe for concurrent use.
type Logger struct {
	level atomic.Int32
	inner *log.Logger
}

// New creates a Logger writing to w at the given minimum level.
func New(w io.Writer, level Level) *Logger {
	l := &Logger{inner: log.New(w, "", log.LstdFlags|log.Lmicroseconds)}
	l.level.Store(int32(level))
	return l
}

// Default is the package-level logger, writing to stderr at INFO.
var Default = New(os.Stderr, LevelInfo)

// SetLevel adjusts the minimum level dynamically.
func (l *Logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

func (l *Logger) log(level Level, msg string) {
	if Level(l.level.Load()) > level {
		return
	}
	l.inner.Printf("[%s] %s", level, msg)
}

func (l *Logger) Debug(msg string) { l.log(LevelDebug, msg) }
func (l *Logger) Info(msg string)  { l.log(LevelInfo, msg) }
func (l *Logger) Warn(msg string)  { l.log(LevelWarn, msg) }
func (l *Logger) Error(msg string) { l.log(LevelError, msg) }

func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, fmt.Sprintf(format, args...)) }
