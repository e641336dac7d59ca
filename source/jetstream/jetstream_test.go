package jetstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilift/wellstream/errors"
)

func TestNew_RequiresConnectionSettings(t *testing.T) {
	cases := []Config{
		{},
		{URL: "nats://localhost:4222"},
		{URL: "nats://localhost:4222", Stream: "SENSORS"},
		{Stream: "SENSORS", Subject: "sensors.readings"},
	}
	for _, cfg := range cases {
		_, err := New(cfg, nil)
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
	}
}

func TestNew_DefaultsDurableName(t *testing.T) {
	src, err := New(Config{
		URL:     "nats://localhost:4222",
		Stream:  "SENSORS",
		Subject: "sensors.readings",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "wellstream", src.cfg.Durable)
}

func TestPauseResumeBeforeConsume(t *testing.T) {
	src, err := New(Config{
		URL:     "nats://localhost:4222",
		Stream:  "SENSORS",
		Subject: "sensors.readings",
	}, nil)
	require.NoError(t, err)

	// Safe to toggle before any connection exists.
	src.Pause()
	src.Pause()
	src.Resume()
	assert.False(t, src.Connected())
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
}
