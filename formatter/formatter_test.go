package formatter

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextFormatter_Format(t *testing.T) {
	entry := &logrus.Entry{
		Time:    time.Date(2025, 1, 2, 3, 4, 5, 6000000, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "relay connection is down",
		Data: logrus.Fields{
			"source":  "relay/client/guard.go:42",
			"session": "s1",
			"conn_id": 3,
		},
	}

	out, err := NewTextFormatter().Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-02T03:04:05.006Z WARN [conn_id: 3, session: s1] relay/client/guard.go:42: relay connection is down\n", string(out))
}

func TestTextFormatter_NoFields(t *testing.T) {
	entry := &logrus.Entry{
		Time:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   logrus.InfoLevel,
		Message: "started",
		Data:    logrus.Fields{},
	}

	out, err := NewTextFormatter().Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-02T03:04:05.000Z INFO started\n", string(out))
}

func TestSetTextFormatter_DoesNotStackHooks(t *testing.T) {
	logger := logrus.New()
	SetTextFormatter(logger)
	SetTextFormatter(logger)

	assert.Len(t, logger.Hooks[logrus.InfoLevel], 1)
	assert.True(t, logger.ReportCaller)
}
