package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	setup(&buf, "warn", FormatJSON)
	log.Info().Msg("hidden")
	log.Warn().Str("task", "send_email").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "send_email", entry["task"])
	assert.Contains(t, entry, "time")

	buf.Reset()
	setup(&buf, "chatty", FormatJSON)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	assert.Contains(t, buf.String(), "unknown log level")

	buf.Reset()
	setup(&buf, "debug", FormatConsole)
	log.Debug().Msg("console line")
	assert.Contains(t, buf.String(), "console line")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}
