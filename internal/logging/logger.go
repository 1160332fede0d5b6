package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

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
		return "?"
	}
}

// ParseLevel maps a level name to a Level. Unknown names default to info.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// FileLogger writes timestamped, component-scoped lines to a shared sink.
// The CLI keeps stdout clean for results, so the default sink is a log file
// under the user's home directory.
type FileLogger struct {
	mu        *sync.Mutex
	out       io.Writer
	level     Level
	component string
}

// Options configures the root logger.
type Options struct {
	Level Level
	Path  string    // log file path; empty means ~/.otto/otto-debug.log
	Out   io.Writer // overrides Path when set (tests)
}

// New opens the log sink and returns the root logger. When the file cannot
// be opened the logger falls back to stderr instead of failing the run.
func New(opts Options) *FileLogger {
	out := opts.Out
	if out == nil {
		path := opts.Path
		if path == "" {
			if home, err := os.UserHomeDir(); err == nil {
				path = filepath.Join(home, ".otto", "otto-debug.log")
			}
		}
		if path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
				if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
					out = f
				}
			}
		}
		if out == nil {
			out = os.Stderr
		}
	}
	return &FileLogger{mu: &sync.Mutex{}, out: out, level: opts.Level}
}

// WithComponent returns a logger that prefixes every line with the component
// name while sharing the parent's sink and level.
func (l *FileLogger) WithComponent(component string) *FileLogger {
	return &FileLogger{mu: l.mu, out: l.out, level: l.level, component: component}
}

func (l *FileLogger) log(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("%s [%s]", time.Now().Format("2006-01-02 15:04:05.000"), level)
	if l.component != "" {
		line += " [" + l.component + "]"
	}
	line += " " + msg + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, line)
}

func (l *FileLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *FileLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *FileLogger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *FileLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }
