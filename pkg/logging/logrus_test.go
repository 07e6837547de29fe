package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestLogrusLoggerPassesFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	var l Logger = LogrusLogger{E: logrus.NewEntry(base)}

	l.Error("render failed", Fields{"path": "b.fits", "frame": 3})
	l.Info("no fields", nil)

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Level != logrus.ErrorLevel || entries[0].Message != "render failed" {
		t.Errorf("entry = %v %q", entries[0].Level, entries[0].Message)
	}
	if entries[0].Data["path"] != "b.fits" || entries[0].Data["frame"] != 3 {
		t.Errorf("fields = %v", entries[0].Data)
	}
	if len(entries[1].Data) != 0 {
		t.Errorf("nil fields should add nothing, got %v", entries[1].Data)
	}
}

func TestNewLogrusLevel(t *testing.T) {
	if got := NewLogrus(false).E.Logger.GetLevel(); got != logrus.InfoLevel {
		t.Errorf("quiet level = %v", got)
	}
	if got := NewLogrus(true).E.Logger.GetLevel(); got != logrus.DebugLevel {
		t.Errorf("verbose level = %v", got)
	}
}
