package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	quiet, err := New(false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quiet.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug to be disabled without verbose")
	}
	if !quiet.Core().Enabled(zapcore.InfoLevel) {
		t.Error("expected info to be enabled")
	}

	loud, err := New(true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !loud.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug to be enabled with verbose")
	}
}
