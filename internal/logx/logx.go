// Package logx provides a small tag-prefixed logger used across every
// component, matching the fmt.Printf("[Tag] ...") convention the rest of
// this codebase's ancestry uses.
package logx

import (
	"log"
	"os"
	"sync/atomic"
)

var enabled int32 = 1

// SetAccessLogging toggles per-request HTTP access logging (POST
// /toggle_logging). It does not affect component-level tagged logging.
func SetAccessLogging(on bool) {
	if on {
		atomic.StoreInt32(&enabled, 1)
	} else {
		atomic.StoreInt32(&enabled, 0)
	}
}

// AccessLoggingEnabled reports the current access-logging toggle state.
func AccessLoggingEnabled() bool {
	return atomic.LoadInt32(&enabled) == 1
}

// Logger tags every line with a short component name, e.g. "[Segment]".
type Logger struct {
	tag string
	std *log.Logger
}

// New returns a Logger tagged with name.
func New(name string) *Logger {
	return &Logger{tag: name, std: log.New(os.Stderr, "", log.LstdFlags)}
}

func (l *Logger) Printf(format string, args ...any) {
	l.std.Printf("["+l.tag+"] "+format, args...)
}

func (l *Logger) Println(args ...any) {
	l.std.Println(append([]any{"[" + l.tag + "]"}, args...)...)
}
