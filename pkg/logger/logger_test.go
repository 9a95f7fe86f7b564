package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel(""))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := FromZap(zap.New(core))

	log.With("component", "webhook").Infow("Event dispatched", "eventID", "evt_1")
	log.Warn("Secret is %s", "missing")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "Event dispatched", entries[0].Message)
		ctx := entries[0].ContextMap()
		assert.Equal(t, "webhook", ctx["component"])
		assert.Equal(t, "evt_1", ctx["eventID"])
		assert.Equal(t, "Secret is missing", entries[1].Message)
	}
}
