package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goose/internal/config"
	"goose/internal/logging"
)

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := logging.New(config.Log{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Info().Str("issue_id", "i1").Msg("summary accepted")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "i1", line["issue_id"])
	assert.Equal(t, "summary accepted", line["message"])
	assert.Contains(t, line, "time")
}

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := logging.New(config.Log{Level: "debug", Format: "console"}, &buf)
	require.NoError(t, err)
	log.Debug().Msg("retrying")
	assert.Contains(t, buf.String(), "retrying")
}

func TestInvalidSettings(t *testing.T) {
	_, err := logging.New(config.Log{Level: "loud"}, nil)
	assert.Error(t, err)
	_, err = logging.New(config.Log{Format: "xml"}, nil)
	assert.Error(t, err)
}
