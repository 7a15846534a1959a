package util

import (
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestInitLog(t *testing.T) {
	require.NoError(t, InitLog("debug", LogConsole))
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	assert.Error(t, InitLog("loud", LogConsole))
	assert.Equal(t, log.DebugLevel, log.GetLevel(), "an invalid level keeps the previous one")

	require.NoError(t, InitLog("error", LogConsole))
}

func TestLogWriter(t *testing.T) {
	assert.Nil(t, logWriter(""))
	assert.Nil(t, logWriter(LogConsole))

	path := filepath.Join(t.TempDir(), "notifier.log")
	w, ok := logWriter(path).(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, filepath.ToSlash(path), w.Filename)
	assert.Equal(t, logMaxSizeMB, w.MaxSize)
}
