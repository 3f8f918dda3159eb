package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diamondlog/syncd/internal/config"
	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/store"
	"github.com/diamondlog/syncd/internal/store/storetest"
	"github.com/diamondlog/syncd/internal/tracker"
)

func TestParseWhen(t *testing.T) {
	now := time.Date(2026, 5, 20, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		text string
		want time.Time
	}{
		{"2026-05-01", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"2026-05-01 09:15", time.Date(2026, 5, 1, 9, 15, 0, 0, time.UTC)},
		{"2026-05-18T10:00:00Z", time.Date(2026, 5, 18, 10, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := parseWhen(tt.text, now)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}

	got, err := parseWhen("3 days ago", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-05-17", got.Format("2006-01-02"))

	_, err = parseWhen("whenever", now)
	assert.Error(t, err)
	_, err = parseWhen("2027-01-01", now)
	assert.ErrorContains(t, err, "future")
}

func TestRate(t *testing.T) {
	assert.Equal(t, ".429", rate(6.0/14.0))
	assert.Equal(t, ".000", rate(0))
	assert.Equal(t, "1.036", rate(1.036))
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table(&buf, []string{"KIND", "UP"}, [][]string{{"play_result", "12"}, {"game", "3"}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "play_result  12"))
	assert.True(t, strings.HasPrefix(lines[2], "game         3"))
}

func TestStructured(t *testing.T) {
	defer func() { jsonOutput, yamlOutput = false, false }()
	v := map[string]int{"uploaded": 2}

	var buf bytes.Buffer
	ok, err := structured(&buf, v)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, buf.String())

	jsonOutput = true
	ok, err = structured(&buf, v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"uploaded": 2}`, buf.String())

	buf.Reset()
	jsonOutput, yamlOutput = false, true
	ok, err = structured(&buf, v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "uploaded: 2\n", buf.String())
}

func TestFlagsCoverConfigKeys(t *testing.T) {
	for name := range config.FlagKeys {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
}

func TestRedactedRemote(t *testing.T) {
	c := config.Default()
	assert.Equal(t, "memory (this process only)", redactedRemote(&c))

	c.Remote.URL = "libsql://diamond.turso.io"
	c.Secrets.RemoteAuthToken = "secret"
	assert.NotContains(t, redactedRemote(&c), "secret")
}

func TestParsePlay(t *testing.T) {
	at := time.Date(2026, 5, 20, 19, 0, 0, 0, time.UTC)

	p, err := parsePlay("Home-Run", 3, 1, 2, at)
	require.NoError(t, err)
	assert.Equal(t, schema.PlayHomeRun, p.Type)
	assert.Equal(t, 3, p.Inning)
	assert.Equal(t, 2, p.RBIs)
	assert.True(t, at.Equal(p.RecordedAt))

	_, err = parsePlay("bunt", 1, 0, 0, at)
	assert.ErrorContains(t, err, "invalid play type")
	_, err = parsePlay("single", 1, 2, 0, at)
	assert.ErrorContains(t, err, "runs")
}

func TestRecordThroughApp(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.AccountID = "acct-1"
	cfg.Log.Level = "error"

	var (
		svc *tracker.Service
		st  *store.Store
	)
	err := withApp(ctx, &cfg, func() error {
		chain := storetest.SaveChain(t, st, cfg.AccountID)
		for _, typ := range []string{"home_run", "walk", "strikeout"} {
			p, err := parsePlay(typ, 1, 0, 0, time.Now().UTC())
			require.NoError(t, err)
			require.NoError(t, svc.RecordPlay(ctx, chain.Clip.LocalID, p))
		}

		snap, err := svc.FinalizeGame(ctx, chain.Game.LocalID)
		require.NoError(t, err)
		assert.Equal(t, 1, snap.Counters.HomeRuns)
		assert.Equal(t, 2, snap.Counters.AtBats)
		assert.Equal(t, 3, snap.PlayCount)

		dirty, err := st.ListDirty(ctx, cfg.AccountID, schema.KindPlayResult)
		require.NoError(t, err)
		assert.Len(t, dirty, 3, "recorded plays wait for upload")
		return nil
	}, &svc, &st)
	require.NoError(t, err)
}
