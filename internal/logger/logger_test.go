package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, env := range []string{"development", "production", ""} {
		log, err := New(env)
		if err != nil {
			t.Fatalf("New(%q): %v", env, err)
		}
		if log == nil {
			t.Fatalf("New(%q) returned nil logger", env)
		}
	}

	dev, _ := New("development")
	if !dev.Core().Enabled(zapcore.DebugLevel) {
		t.Error("development logger should enable debug")
	}
	prod, _ := New("production")
	if prod.Core().Enabled(zapcore.DebugLevel) {
		t.Error("production logger should not enable debug")
	}
}
