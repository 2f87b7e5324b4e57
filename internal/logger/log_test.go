package logger

import (
	"bytes"
	stdlog "log"
	"os"
	"testing"

	"github.com/coffersTech/loghell/internal/config"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	defer func() {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
		stdlog.SetOutput(os.Stderr)
	}()

	var buf bytes.Buffer
	New(config.Config{LogLevel: "WARN", ServiceName: "loghell", InstanceID: "node-a"}, &buf)

	log := Component("server")
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	stdlog.Print("from stdlib")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "shown", first["message"])
	assert.Equal(t, "warn", first["level"])
	assert.Equal(t, "server", first["component"])
	assert.Equal(t, "loghell", first["service"])
	assert.Equal(t, "node-a", first["instance"])

	assert.Contains(t, string(lines[1]), "from stdlib")
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	log := New(config.Config{LogLevel: "chatty", LogPretty: true}, &buf)
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
