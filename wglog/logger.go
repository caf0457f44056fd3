// Package wglog provides the structured logger used throughout the core.
// It wraps log/slog behind a small verbosity gate so call sites read the
// same way regardless of whether a caller wired up a real handler.
package wglog

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Level controls which calls actually reach the underlying slog.Logger.
type Level int

const (
	Silent Level = iota
	Error
	Verbose
)

// Logger is the logging handle threaded through Device, Peer, and the
// packages that need to report drops and state transitions without
// returning them as errors (see wgerr for the cases that do).
type Logger struct {
	level Level
	log   *slog.Logger
}

// New builds a Logger around an slog.Logger at the given verbosity.
// A nil slog.Logger falls back to slog.Default().
func New(level Level, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{level: level, log: log}
}

// NewFromLevelString mirrors the level-name parsing used elsewhere in the
// stack (debug/info/warn/error) so callers can wire verbosity from config
// the same way they configure any other component.
func NewFromLevelString(name string) *Logger {
	var l Level
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "silent", "off", "none":
		l = Silent
	case "error", "warn", "warning":
		l = Error
	default:
		l = Verbose
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})
	return New(l, slog.New(handler))
}

// Disabled returns a Logger that drops everything. Used as the default
// when a caller does not supply one.
func Disabled() *Logger {
	return &Logger{level: Silent, log: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

func (l *Logger) Verbosef(format string, args ...any) {
	if l == nil || l.level < Verbose {
		return
	}
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil || l.level < Error {
		return
	}
	l.log.Error(fmt.Sprintf(format, args...))
}
