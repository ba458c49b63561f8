// Package logging is the bare stdlib-log wrapper every other package logs
// through.
package logging

import (
	"log"
	"os"
)

// Logger prefixes every line with a component tag.
type Logger struct {
	prefix string
	std    *log.Logger
}

// New returns a Logger that tags every line with component, e.g. "[lifecycle]".
func New(component string) *Logger {
	return &Logger{
		prefix: "[" + component + "] ",
		std:    log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) Printf(format string, args ...any) {
	l.std.Printf(l.prefix+format, args...)
}

func (l *Logger) Println(args ...any) {
	all := make([]any, 0, len(args)+1)
	all = append(all, l.prefix)
	all = append(all, args...)
	l.std.Println(all...)
}

// Warnf logs a warning-level line using a bare "WARNING: ..." prefix
// rather than introducing level enums.
func (l *Logger) Warnf(format string, args ...any) {
	l.std.Printf(l.prefix+"WARNING: "+format, args...)
}

// Errorf logs an error-level line.
func (l *Logger) Errorf(format string, args ...any) {
	l.std.Printf(l.prefix+"ERROR: "+format, args...)
}

// Fatalf logs then calls os.Exit(1), matching log.Fatalf's contract.
func (l *Logger) Fatalf(format string, args ...any) {
	l.std.Fatalf(l.prefix+format, args...)
}
