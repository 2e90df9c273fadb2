package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/taskstatus/config"
)

func TestNewLoggerFormat(t *testing.T) {
	t.Run("json by default", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(config.LoggingConfig{Format: "json"}, &buf)
		logger.Info().Str("item_uid", "i1").Msg("event handled")

		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "event handled", line["message"])
		assert.Equal(t, "i1", line["item_uid"])
	})

	t.Run("console when asked", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(config.LoggingConfig{Format: "console"}, &buf)
		logger.Info().Msg("event handled")

		assert.Contains(t, buf.String(), "event handled")
		assert.False(t, json.Valid(buf.Bytes()))
	})
}

func TestConfigDefaultsLogJSONInDevelopment(t *testing.T) {
	cfg, err := config.LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "development", cfg.Environment)

	var buf bytes.Buffer
	logger := newLogger(cfg.Logging, &buf)
	logger.Info().Msg("started")
	assert.True(t, json.Valid(buf.Bytes()))
}
