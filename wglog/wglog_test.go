package wglog

import "testing"

func TestNilLoggerMethodsAreNoops(t *testing.T) {
	var l *Logger
	l.Verbosef("should not panic: %d", 1)
	l.Errorf("should not panic: %d", 2)
}

func TestDisabledSuppressesEverything(t *testing.T) {
	l := Disabled()
	// Neither call should panic, and Disabled is Silent so both are
	// gated off before reaching the underlying slog.Logger.
	l.Verbosef("hello")
	l.Errorf("hello")
}

func TestNewFromLevelStringParsesKnownNames(t *testing.T) {
	cases := map[string]Level{
		"silent":  Silent,
		"off":     Silent,
		"none":    Silent,
		"error":   Error,
		"warn":    Error,
		"warning": Error,
		"debug":   Verbose,
		"":        Verbose,
	}
	for name, want := range cases {
		l := NewFromLevelString(name)
		if l.level != want {
			t.Fatalf("level string %q: got %v, want %v", name, l.level, want)
		}
	}
}

func TestNewFallsBackToDefaultLogger(t *testing.T) {
	l := New(Verbose, nil)
	if l.log == nil {
		t.Fatal("New with a nil slog.Logger should fall back to slog.Default()")
	}
}
