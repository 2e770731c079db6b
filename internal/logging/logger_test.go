package logging

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func formatEntry(t *testing.T, entry *log.Entry) string {
	t.Helper()
	out, err := (&LogFormatter{}).Format(entry)
	require.NoError(t, err)
	return string(out)
}

func TestLogFormatterBasicLine(t *testing.T) {
	entry := &log.Entry{
		Logger:  log.StandardLogger(),
		Time:    time.Date(2026, 8, 24, 20, 14, 4, 0, time.UTC),
		Level:   log.InfoLevel,
		Message: "server listening\n",
		Data:    log.Fields{},
	}

	got := formatEntry(t, entry)
	assert.Equal(t, "[2026-08-24 20:14:04] [--------] [info ] server listening\n", got)
}

func TestLogFormatterRequestID(t *testing.T) {
	entry := &log.Entry{
		Logger:  log.StandardLogger(),
		Time:    time.Date(2026, 8, 24, 20, 14, 4, 0, time.UTC),
		Level:   log.DebugLevel,
		Message: "model selected",
		Data:    log.Fields{"request_id": "a1b2c3d4"},
	}

	got := formatEntry(t, entry)
	assert.Contains(t, got, "[a1b2c3d4]")
	assert.NotContains(t, got, "request_id=")
}

func TestLogFormatterWarnLevelShortened(t *testing.T) {
	entry := &log.Entry{
		Logger:  log.StandardLogger(),
		Time:    time.Now(),
		Level:   log.WarnLevel,
		Message: "breaker tripped",
		Data:    log.Fields{},
	}

	got := formatEntry(t, entry)
	assert.Contains(t, got, "[warn ]")
	assert.NotContains(t, got, "warning")
}

func TestLogFormatterExtraFields(t *testing.T) {
	entry := &log.Entry{
		Logger:  log.StandardLogger(),
		Time:    time.Now(),
		Level:   log.InfoLevel,
		Message: "done",
		Data:    log.Fields{"model": "gpt-4o"},
	}

	got := formatEntry(t, entry)
	assert.Contains(t, got, "| model=gpt-4o")
}
