// Package logging wraps the standard log package with level-tagged output,
// threaded through components as a constructed *Logger rather than a global.
//
// Grounded on grimm.is/flywall/internal/logging: the teacher threads a
// *logging.Logger through its Server/Collector structs and logs through the
// standard library underneath (syslog export aside); we keep that shape.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Level is a log severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "?"
	}
}

// Logger is a minimal leveled logger over *log.Logger.
type Logger struct {
	out       *log.Logger
	component string
	min       Level
}

// New constructs a Logger writing to w, tagged with component, filtering
// below min.
func New(w io.Writer, component string, min Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		out:       log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		component: component,
		min:       min,
	}
}

// Default returns a Logger writing to stderr at Info level.
func Default(component string) *Logger {
	return New(os.Stderr, component, Info)
}

// With returns a child Logger scoped to a sub-component name.
func (l *Logger) With(sub string) *Logger {
	return &Logger{out: l.out, component: l.component + "." + sub, min: l.min}
}

func (l *Logger) log(lvl Level, format string, args ...any) {
	if lvl < l.min {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.out.Printf("[%s] %-5s %s", l.component, lvl, msg)
}

func (l *Logger) Debugf(format string, args ...any) { l.log(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(Info, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(Warn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log(Error, format, args...) }
