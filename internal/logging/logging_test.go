package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	stderr, err := os.Create(filepath.Join(dir, "stderr"))
	require.NoError(t, err)
	defer stderr.Close()

	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.File = filepath.Join(dir, "syncd.log")

	logger, closer, err := New(cfg, stderr)
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())

	logger.Info().Str("kind", "game").Msg("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"game"`)

	out, err := os.ReadFile(stderr.Name())
	require.NoError(t, err)
	assert.Contains(t, string(out), `"message":"hello"`, "non-terminal output is JSON")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New(Config{Level: "loud"}, os.Stderr)
	assert.Error(t, err)
}
