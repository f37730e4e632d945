package log

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(level)
	prevNow := now
	now = func() time.Time { return time.Date(2026, 2, 12, 15, 0, 0, 0, time.UTC) }
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
		now = prevNow
	})
	return &buf
}

func TestInfoLineFormat(t *testing.T) {
	buf := capture(t, LevelInfo)

	Info("plan completed", "sessions", 5, "zone", "America/Chicago", "note", "two words")

	assert.Equal(t,
		"2026-02-12T15:00:00Z [INFO] plan completed sessions=5 zone=America/Chicago note=\"two words\"\n",
		buf.String())
}

func TestErrorPrependsErr(t *testing.T) {
	buf := capture(t, LevelInfo)

	Error("fetch failed", errors.New("boom"), "id", "school")

	assert.Contains(t, buf.String(), "[ERROR] fetch failed err=boom id=school")
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, LevelWarn)

	Debug("hidden")
	Info("hidden")
	Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[WARN] shown")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}
