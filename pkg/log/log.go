package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Level names as they appear in every line.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
	LevelDebug = "DEBUG"
)

// Logger is a named logger. Child loggers created with With share the name
// and the debug switch of their parent.
type Logger struct {
	name   string
	fields string
	std    *log.Logger
}

// writerHolder keeps the stored type stable across SetOutput calls.
type writerHolder struct {
	w io.Writer
}

var (
	globalDebug  atomic.Bool
	serviceDebug sync.Map // name -> *atomic.Bool
	loggers      sync.Map // name -> *Logger
	outputWriter atomic.Value
)

func init() {
	outputWriter.Store(writerHolder{w: os.Stderr})
}

func currentWriter() io.Writer {
	return outputWriter.Load().(writerHolder).w
}

// ForService returns the memoized logger for a component, e.g. "search",
// "nestapi" or "importer".
func ForService(name string) *Logger {
	if name == "" {
		name = "nest"
	}
	if l, ok := loggers.Load(name); ok {
		return l.(*Logger)
	}
	l := &Logger{name: name, std: log.New(currentWriter(), "", log.LstdFlags|log.Lmicroseconds)}
	actual, _ := loggers.LoadOrStore(name, l)
	return actual.(*Logger)
}

// With returns a child logger that appends key=value to every line. Child
// loggers are not memoized; keep them for the lifetime of the thing they
// describe (a live session, an import run).
func (l *Logger) With(key string, value any) *Logger {
	field := fmt.Sprintf("%s=%v", key, value)
	fields := field
	if l.fields != "" {
		fields = l.fields + " " + field
	}
	return &Logger{name: l.name, fields: fields, std: l.std}
}

// Name returns the component name of the logger.
func (l *Logger) Name() string {
	return l.name
}

// SetGlobalDebug turns debug output on or off for every logger.
func SetGlobalDebug(enabled bool) {
	globalDebug.Store(enabled)
}

func GlobalDebug() bool {
	return globalDebug.Load()
}

// EnableDebugFor turns on debug output for one component only.
func EnableDebugFor(name string) {
	if name == "" {
		return
	}
	v, _ := serviceDebug.LoadOrStore(name, &atomic.Bool{})
	v.(*atomic.Bool).Store(true)
}

func DisableDebugFor(name string) {
	if v, ok := serviceDebug.Load(name); ok {
		v.(*atomic.Bool).Store(false)
	}
}

// EnableDebugList enables debug output for a comma separated list of
// components, as given on the command line. "all" or "*" enables it globally.
func EnableDebugList(list string) {
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		switch name {
		case "":
		case "all", "*":
			SetGlobalDebug(true)
		default:
			EnableDebugFor(name)
		}
	}
}

func DebugEnabledFor(name string) bool {
	if globalDebug.Load() {
		return true
	}
	if v, ok := serviceDebug.Load(name); ok {
		return v.(*atomic.Bool).Load()
	}
	return false
}

// SetOutput redirects every logger, existing ones included, to w.
func SetOutput(w io.Writer) {
	if w == nil {
		return
	}
	outputWriter.Store(writerHolder{w: w})
	loggers.Range(func(_, v any) bool {
		v.(*Logger).std.SetOutput(w)
		return true
	})
}

func (l *Logger) output(level, msg string) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" [")
	b.WriteString(l.name)
	b.WriteString(">] ")
	if l.fields != "" {
		b.WriteString(l.fields)
		b.WriteByte(' ')
	}
	b.WriteString(msg)
	l.std.Println(b.String())
}

func (l *Logger) Infof(format string, args ...any) {
	l.output(LevelInfo, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.output(LevelWarn, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.output(LevelError, fmt.Sprintf(format, args...))
}

// Debugf only prints when debug is enabled globally or for this component.
func (l *Logger) Debugf(format string, args ...any) {
	if !DebugEnabledFor(l.name) {
		return
	}
	l.output(LevelDebug, fmt.Sprintf(format, args...))
}

// Writer returns an io.Writer logging each write as one line at level. It is
// used to route http.Server error logs through the component logger.
func (l *Logger) Writer(level string) io.Writer {
	return lineWriter{l: l, level: level}
}

// StdLogger wraps Writer in a standard library logger.
func (l *Logger) StdLogger(level string) *log.Logger {
	return log.New(l.Writer(level), "", 0)
}

type lineWriter struct {
	l     *Logger
	level string
}

func (w lineWriter) Write(p []byte) (int, error) {
	w.l.output(w.level, strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
