package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/anomalog/internal/config"
)

func TestNewWithWriter_JSON(t *testing.T) {
	cfg := config.DefaultObservabilityConfig()
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "warn"

	var buf bytes.Buffer
	log := NewWithWriter(cfg, &buf)
	log.Info().Msg("dropped")
	log.Warn().Str("batch_id", "b1").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "anomalog", entry["service"])
	assert.Equal(t, "b1", entry["batch_id"])
}

func TestNewRelic_DisabledWithoutLicense(t *testing.T) {
	app, err := NewRelic(config.DefaultObservabilityConfig())
	require.NoError(t, err)
	assert.Nil(t, app)
}
