package logger

import (
	"testing"

	"go.uber.org/zap"
)

func TestNew_Level(t *testing.T) {
	for _, debug := range []bool{false, true} {
		l, err := New(debug)
		if err != nil {
			t.Fatalf("New(%v): %v", debug, err)
		}
		if got := l.Core().Enabled(zap.DebugLevel); got != debug {
			t.Errorf("New(%v) debug enabled = %v", debug, got)
		}
		if !l.Core().Enabled(zap.InfoLevel) {
			t.Errorf("New(%v) info disabled", debug)
		}
	}
}
