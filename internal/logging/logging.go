// Package logging provides the leveled line logger shared by the
// supervisor and every worker process. All processes write to the same
// underlying descriptor so interleaved output stays line-atomic.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Level orders log severities from most to least verbose.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the lowercase name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int32(l))
	}
}

// ParseLevel converts a textual level into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Options configures a Logger.
type Options struct {
	Level   Level
	JSON    bool
	NoColor bool
}

// Logger writes prefixed, leveled lines in the classic
// "stress-ng: info: [pid] name: message" shape, or JSON records when
// structured output is requested.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	level atomic.Int32
	name  string
	json  bool
	color bool
	pid   int
	now   func() time.Time
}

// record is the JSON wire shape of a single log line.
type record struct {
	Timestamp time.Time `json:"ts"`
	Level     string    `json:"level"`
	Pid       int       `json:"pid"`
	Name      string    `json:"name,omitempty"`
	Message   string    `json:"msg"`
}

// New returns a Logger writing to out. Colour is enabled only for
// plain-text output on a terminal.
func New(out io.Writer, opts Options) *Logger {
	l := &Logger{
		out:  out,
		name: "",
		json: opts.JSON,
		pid:  os.Getpid(),
		now:  time.Now,
	}
	l.level.Store(int32(opts.Level))
	if !opts.JSON && !opts.NoColor {
		if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			l.color = true
		}
	}
	return l
}

// Named returns a copy of the logger that prefixes every line with
// name, typically the stressor instance ("flock-0").
func (l *Logger) Named(name string) *Logger {
	child := &Logger{
		out:   l.out,
		name:  name,
		json:  l.json,
		color: l.color,
		pid:   os.Getpid(),
		now:   l.now,
	}
	child.level.Store(l.level.Load())
	return child
}

// SetLevel adjusts the minimum severity emitted.
func (l *Logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// Enabled reports whether lines at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return int32(level) >= l.level.Load()
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

var levelColors = map[Level]*color.Color{
	LevelDebug: color.New(color.FgCyan),
	LevelInfo:  color.New(color.FgGreen),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed),
}

func (l *Logger) logf(level Level, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.json {
		rec := record{
			Timestamp: l.now().UTC(),
			Level:     level.String(),
			Pid:       l.pid,
			Name:      l.name,
			Message:   msg,
		}
		enc := json.NewEncoder(l.out)
		_ = enc.Encode(rec)
		return
	}
	lvl := level.String()
	if l.color {
		if c, ok := levelColors[level]; ok {
			lvl = c.Sprint(lvl)
		}
	}
	if l.name != "" {
		fmt.Fprintf(l.out, "stress-ng: %s: [%d] %s: %s\n", lvl, l.pid, l.name, msg)
		return
	}
	fmt.Fprintf(l.out, "stress-ng: %s: [%d] %s\n", lvl, l.pid, msg)
}
