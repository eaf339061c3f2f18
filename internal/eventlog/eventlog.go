// Package eventlog writes forumtap's structured log lines: one JSON object per
// event carrying timestamp, level, component, event_type and instance, plus
// free-form fields. Human-oriented lines go through Printf with a
// "[Component]" prefix.
package eventlog

import (
	"encoding/json"
	"io"
	"log"
	"strings"
	"time"
)

// Level is the severity recorded in the "level" field.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Logger emits structured events for one component of one instance.
// A nil *Logger discards everything.
type Logger struct {
	component string
	instance  string
	out       *log.Logger
	now       func() time.Time
}

// New returns a Logger writing through the standard library's default logger.
func New(component, instance string) *Logger {
	return &Logger{
		component: component,
		instance:  instance,
		out:       log.Default(),
		now:       time.Now,
	}
}

// NewWithWriter returns a Logger writing bare lines (no log prefix or
// timestamp) to w.
func NewWithWriter(component, instance string, w io.Writer) *Logger {
	return &Logger{
		component: component,
		instance:  instance,
		out:       log.New(w, "", 0),
		now:       time.Now,
	}
}

// With returns a Logger for a sub-component sharing the same output.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	child := *l
	child.component = component
	return &child
}

// Event logs an info-level event.
func (l *Logger) Event(eventType string, data map[string]interface{}) {
	l.emit(LevelInfo, eventType, data)
}

// Warn logs a warn-level event.
func (l *Logger) Warn(eventType string, data map[string]interface{}) {
	l.emit(LevelWarn, eventType, data)
}

// Error logs an error-level event. err is recorded under "error".
func (l *Logger) Error(eventType string, err error, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	if err != nil {
		data["error"] = err.Error()
	}
	l.emit(LevelError, eventType, data)
}

// Printf writes a human-readable line prefixed with the component name.
func (l *Logger) Printf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.out.Printf("["+title(l.component)+"] "+format, args...)
}

func (l *Logger) emit(level Level, eventType string, data map[string]interface{}) {
	if l == nil {
		return
	}

	entry := make(map[string]interface{}, len(data)+5)
	for k, v := range data {
		entry[k] = v
	}
	entry["timestamp"] = l.now().UTC().Format(time.RFC3339)
	entry["level"] = string(level)
	entry["component"] = l.component
	entry["event_type"] = eventType
	entry["instance"] = l.instance

	jsonData, err := json.Marshal(entry)
	if err != nil {
		l.Printf("Failed to marshal log event %s: %v", eventType, err)
		return
	}

	l.out.Println(string(jsonData))
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
