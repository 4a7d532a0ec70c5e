// Package logging gives every alfred-go component a small, injectable
// logger instead of reaching for a package-level global.
package logging

import (
	"fmt"
	"log"
	"os"
)

const calldepth = 2

const (
	info  = "INFO"
	warn  = "WARN"
	errl  = "ERROR"
	debug = "DEBUG"
	fatal = "FATAL"
)

// Logger is implemented by anything that wants to receive diagnostics from
// the protocol core. The core never blocks on a Logger call, so
// implementations must not do anything that could stall the event loop.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
}

func level(prefix, message string) string {
	return fmt.Sprintf("[%s]: %s", prefix, message)
}

// StdLogger is the default Logger, used whenever the collaborator doesn't
// inject its own.
type StdLogger struct {
	*log.Logger
	debug bool
}

// NewStdLogger builds a StdLogger writing to stderr.
func NewStdLogger() *StdLogger {
	return &StdLogger{
		Logger: log.New(os.Stderr, "alfred: ", log.LstdFlags),
	}
}

// ToggleDebug enables or disables Debug/Debugf output, returning the
// previous value.
func (l *StdLogger) ToggleDebug(value bool) bool {
	previous := l.debug
	l.debug = value
	return previous
}

func (l *StdLogger) Info(v ...interface{}) {
	_ = l.Output(calldepth, level(info, fmt.Sprint(v...)))
}

func (l *StdLogger) Infof(format string, v ...interface{}) {
	_ = l.Output(calldepth, level(info, fmt.Sprintf(format, v...)))
}

func (l *StdLogger) Warn(v ...interface{}) {
	_ = l.Output(calldepth, level(warn, fmt.Sprint(v...)))
}

func (l *StdLogger) Warnf(format string, v ...interface{}) {
	_ = l.Output(calldepth, level(warn, fmt.Sprintf(format, v...)))
}

func (l *StdLogger) Error(v ...interface{}) {
	_ = l.Output(calldepth, level(errl, fmt.Sprint(v...)))
}

func (l *StdLogger) Errorf(format string, v ...interface{}) {
	_ = l.Output(calldepth, level(errl, fmt.Sprintf(format, v...)))
}

func (l *StdLogger) Debug(v ...interface{}) {
	if l.debug {
		_ = l.Output(calldepth, level(debug, fmt.Sprint(v...)))
	}
}

func (l *StdLogger) Debugf(format string, v ...interface{}) {
	if l.debug {
		_ = l.Output(calldepth, level(debug, fmt.Sprintf(format, v...)))
	}
}

func (l *StdLogger) Fatal(v ...interface{}) {
	_ = l.Output(calldepth, level(fatal, fmt.Sprint(v...)))
	os.Exit(1)
}

func (l *StdLogger) Fatalf(format string, v ...interface{}) {
	_ = l.Output(calldepth, level(fatal, fmt.Sprintf(format, v...)))
	os.Exit(1)
}

// Nop discards everything. Handy for tests that don't care about log output.
type Nop struct{}

func (Nop) Info(v ...interface{})                 {}
func (Nop) Infof(format string, v ...interface{}) {}
func (Nop) Warn(v ...interface{})                 {}
func (Nop) Warnf(format string, v ...interface{}) {}
func (Nop) Error(v ...interface{})                {}
func (Nop) Errorf(format string, v ...interface{}) {}
func (Nop) Debug(v ...interface{})                {}
func (Nop) Debugf(format string, v ...interface{}) {}
func (Nop) Fatal(v ...interface{})                {}
func (Nop) Fatalf(format string, v ...interface{}) {}
