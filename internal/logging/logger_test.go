package logging

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerHistory(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: LevelDebug, MaxHistory: 2, Output: &buf})
	require.NoError(t, err)

	log := l.Component("fetcher")
	log.Info().Int("index", 1).Msg("first")
	log.Warn().Msg("second")
	log.Debug().Msg("third")

	hist := l.History(0)
	require.Len(t, hist, 2)
	assert.Equal(t, "second", hist[0].Message)
	assert.Equal(t, "warn", hist[0].Level)
	assert.Equal(t, "fetcher", hist[0].Component)
	assert.Equal(t, "third", hist[1].Message)

	assert.Contains(t, buf.String(), `"message":"first"`)
}

func TestLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: LevelWarn, Output: &buf})
	require.NoError(t, err)

	log := l.Zerolog()
	log.Info().Msg("dropped")
	log.Error().Msg("kept")

	hist := l.History(10)
	require.Len(t, hist, 1)
	assert.Equal(t, "kept", hist[0].Message)
}

func TestLoggerDataField(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Output: &buf})
	require.NoError(t, err)

	log := l.Component("engine")
	log.Info().Str("utterance", "abc").Msg("started")

	hist := l.History(1)
	require.Len(t, hist, 1)
	assert.Equal(t, "utterance=abc", hist[0].Data)
}

func TestLoggerFileOutput(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	l, err := New(&Config{Dir: dir, Output: &buf})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, dir, filepath.Dir(l.LogPath()))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", ParseLevel(LevelDebug).String())
	assert.Equal(t, "info", ParseLevel("bogus").String())
	assert.Equal(t, "error", ParseLevel(LevelError).String())
}
