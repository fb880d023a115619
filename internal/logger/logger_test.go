package logger

import (
	"bytes"
	"os"
	"testing"

	"log/slog"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel(" WARNING "))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}

func TestSetOutputAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	SetLevel("warn")
	Infof("low priority %d", 1)
	Warnf("something odd: %s", "detail")

	out := buf.String()
	assert.NotContains(t, out, "low priority")
	assert.Contains(t, out, "something odd: detail")

	SetLevel("info")
	Infof("visible again")
	assert.Contains(t, buf.String(), "visible again")
}
