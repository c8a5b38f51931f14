// Package logging provides the one-logger-per-component convention:
// New(name) builds a logger with the "[ComponentName] " prefix of the
// teacher's pkg/database.Client/pkg/server handlers, and Or falls back to
// it for a nil logger. cmd/node is its only caller; no constructor in this
// module takes a *log.Logger argument.
package logging

import (
	"log"
	"os"
)

// New returns a logger prefixed with "[name] ", writing to stderr with
// the standard date/time flags, matching every `log.New(log.Writer(), "[X] ",
// log.LstdFlags)` call site in the teacher's pkg/ tree.
func New(name string) *log.Logger {
	return log.New(os.Stderr, "["+name+"] ", log.LstdFlags)
}

// Or returns logger if non-nil, else a default logger for name.
func Or(logger *log.Logger, name string) *log.Logger {
	if logger != nil {
		return logger
	}
	return New(name)
}
