package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/h1v3-io/swarm/internal/logbuf"
)

func TestNew_TeesIntoBuffer(t *testing.T) {
	buf := logbuf.New(10)
	log, err := New(Options{Level: "error", Buffer: buf})
	require.NoError(t, err)

	log.Sugar().Debugw("cycle complete", "cycle", 1)

	entries := buf.Query(time.Time{}, zapcore.DebugLevel, 0)
	require.Len(t, entries, 1)
	assert.Equal(t, "cycle complete", entries[0].Message)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel), "buffer keeps the logger enabled for debug")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(Options{Level: "chatty"})
	assert.Error(t, err)
}

func TestNew_Dev(t *testing.T) {
	log, err := New(Options{Dev: true})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel-1))
}
