package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diamondlog/syncd/internal/adapter"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SYNCD_DATA_DIR", dir)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "syncd.db"), cfg.DatabasePath())
	assert.Equal(t, "memory:", cfg.Remote.URL)
	assert.Equal(t, 4, cfg.Sync.Concurrency)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, adapter.LastWriteWins, policy)
}

func TestLoad_PrecedenceFileEnvFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	c := Default()
	c.DataDir = dir
	c.AccountID = "from-file"
	c.Sync.Interval = 90 * time.Second
	c.Sync.Concurrency = 2
	require.NoError(t, Write(path, c, false))
	assert.Error(t, Write(path, c, false), "refuses to overwrite")
	require.NoError(t, Write(path, c, true))

	t.Setenv("SYNCD_SYNC_CONCURRENCY", "8")
	t.Setenv("SYNCD_REMOTE_AUTH_TOKEN", "secret")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("account", "", "")
	flags.String("policy", "", "")
	require.NoError(t, flags.Parse([]string{"--account", "from-flag"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.AccountID)
	assert.Equal(t, 90*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 8, cfg.Sync.Concurrency)
	assert.Equal(t, "last-write-wins", cfg.Sync.Policy, "unset flags keep lower layers")
	assert.Equal(t, "secret", cfg.RemoteStore().AuthToken)
	assert.Equal(t, 90*time.Second, cfg.TriggerConfig().Interval)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Sync.Policy = "coin-flip"
	assert.Error(t, c.Validate())

	c = Default()
	c.Sync.Concurrency = 0
	assert.Error(t, c.Validate())
}
