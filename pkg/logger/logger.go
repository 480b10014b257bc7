// Package logger is the component logger used across carmine. Every call
// names the component that emitted it ("discord", "slack", "dispatch", ...)
// and may carry a field map.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[LogLevel]string{
	DEBUG: "debug",
	INFO:  "info",
	WARN:  "warn",
	ERROR: "error",
	FATAL: "fatal",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel maps a config string to a LogLevel. Empty means INFO.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return INFO, nil
	case "debug":
		return DEBUG, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "fatal":
		return FATAL, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

var (
	mu    sync.RWMutex
	base  = newLogger(os.Stderr, "console")
	level = INFO
)

func newLogger(w io.Writer, format string) zerolog.Logger {
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// Configure replaces the output sink. format is "console" or "json".
func Configure(w io.Writer, format string) {
	mu.Lock()
	defer mu.Unlock()
	base = newLogger(w, format).Level(level.zerolog())
}

func SetLevel(l LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	level = l
	base = base.Level(l.zerolog())
}

func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func emit(l LogLevel, component, message string, fields map[string]any) {
	lg := current()
	var evt *zerolog.Event
	switch l {
	case DEBUG:
		evt = lg.Debug()
	case WARN:
		evt = lg.Warn()
	case ERROR:
		evt = lg.Error()
	case FATAL:
		// WithLevel never exits; callers decide what fatal means.
		evt = lg.WithLevel(zerolog.FatalLevel)
	default:
		evt = lg.Info()
	}
	if evt == nil {
		return
	}
	if component != "" {
		evt = evt.Str("component", component)
	}
	if len(fields) > 0 {
		evt = evt.Fields(fields)
	}
	evt.Msg(message)
}

func Debug(message string) { emit(DEBUG, "", message, nil) }
func DebugC(component, message string) { emit(DEBUG, component, message, nil) }
func DebugF(message string, f map[string]any) { emit(DEBUG, "", message, f) }
func DebugCF(component, message string, f map[string]any) {
	emit(DEBUG, component, message, f)
}

func Info(message string) { emit(INFO, "", message, nil) }
func InfoC(component, message string) { emit(INFO, component, message, nil) }
func InfoF(message string, f map[string]any) { emit(INFO, "", message, f) }
func InfoCF(component, message string, f map[string]any) {
	emit(INFO, component, message, f)
}

func Warn(message string) { emit(WARN, "", message, nil) }
func WarnC(component, message string) { emit(WARN, component, message, nil) }
func WarnCF(component, message string, f map[string]any) {
	emit(WARN, component, message, f)
}

func Error(message string) { emit(ERROR, "", message, nil) }
func ErrorC(component, message string) { emit(ERROR, component, message, nil) }
func ErrorCF(component, message string, f map[string]any) {
	emit(ERROR, component, message, f)
}

func FatalCF(component, message string, f map[string]any) {
	emit(FATAL, component, message, f)
}
