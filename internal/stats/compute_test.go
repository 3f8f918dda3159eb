package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/diamondlog/syncd/internal/schema"
)

func plays(types ...schema.PlayType) []*schema.PlayResult {
	out := make([]*schema.PlayResult, 0, len(types))
	for _, pt := range types {
		out = append(out, &schema.PlayResult{Type: pt, RecordedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)})
	}
	return out
}

func repeat(pt schema.PlayType, n int) []schema.PlayType {
	out := make([]schema.PlayType, n)
	for i := range out {
		out[i] = pt
	}
	return out
}

func TestRates_OnBasePercentageIncludesHBPAndSF(t *testing.T) {
	// 10 at-bats with 3 hits, 2 walks, 1 hit-by-pitch, 1 sacrifice fly.
	var types []schema.PlayType
	types = append(types, schema.PlaySingle, schema.PlayDouble, schema.PlayHomeRun)
	types = append(types, repeat(schema.PlayStrikeout, 4)...)
	types = append(types, repeat(schema.PlayGroundout, 3)...)
	types = append(types, schema.PlayWalk, schema.PlayWalk, schema.PlayHitByPitch, schema.PlaySacrificeFly)

	c := Compute(plays(types...))
	assert.Equal(t, 10, c.AtBats)
	assert.Equal(t, 3, c.Hits)
	assert.Equal(t, 2, c.Walks)
	assert.Equal(t, 1, c.HitByPitch)
	assert.Equal(t, 1, c.SacrificeFlies)
	assert.Equal(t, 14, c.PlateAppearances)

	r := Rates(c)
	assert.InDelta(t, 6.0/14.0, r.OnBasePercentage, 1e-9)
	assert.InDelta(t, 0.3, r.BattingAverage, 1e-9)
	assert.InDelta(t, 7.0/10.0, r.Slugging, 1e-9)
	assert.InDelta(t, 6.0/14.0+0.7, r.OPS, 1e-9)
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name  string
		plays []*schema.PlayResult
		want  schema.Counters
	}{
		{
			name: "empty",
			want: schema.Counters{},
		},
		{
			name:  "hit types and total bases",
			plays: plays(schema.PlaySingle, schema.PlayDouble, schema.PlayTriple, schema.PlayHomeRun),
			want: schema.Counters{
				PlateAppearances: 4, AtBats: 4, Hits: 4,
				Singles: 1, Doubles: 1, Triples: 1, HomeRuns: 1, TotalBases: 10,
			},
		},
		{
			name:  "outs",
			plays: plays(schema.PlayStrikeout, schema.PlayGroundout, schema.PlayFlyout),
			want: schema.Counters{
				PlateAppearances: 3, AtBats: 3,
				Strikeouts: 1, Groundouts: 1, Flyouts: 1,
			},
		},
		{
			name:  "not at-bats",
			plays: plays(schema.PlayWalk, schema.PlayHitByPitch, schema.PlaySacrificeFly),
			want: schema.Counters{
				PlateAppearances: 3, Walks: 1, HitByPitch: 1, SacrificeFlies: 1,
			},
		},
		{
			name:  "malformed plays are skipped",
			plays: append(plays(schema.PlaySingle), &schema.PlayResult{Type: "bunt"}, nil),
			want:  schema.Counters{PlateAppearances: 1, AtBats: 1, Hits: 1, Singles: 1, TotalBases: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compute(tt.plays))
		})
	}
}

func TestCompute_RunsAndRBIs(t *testing.T) {
	ps := plays(schema.PlayHomeRun, schema.PlaySacrificeFly)
	ps[0].Runs, ps[0].RBIs = 1, 3
	ps[1].RBIs = 1

	c := Compute(ps)
	assert.Equal(t, 1, c.Runs)
	assert.Equal(t, 4, c.RBIs)
}

func TestRates_ZeroDenominators(t *testing.T) {
	assert.Equal(t, schema.Rates{}, Rates(schema.Counters{}))

	// Only walks: on base every time, no at-bats.
	r := Rates(Compute(plays(schema.PlayWalk, schema.PlayWalk)))
	assert.Equal(t, 1.0, r.OnBasePercentage)
	assert.Zero(t, r.BattingAverage)
	assert.Zero(t, r.Slugging)
}
