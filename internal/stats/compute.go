package stats

import "github.com/diamondlog/syncd/internal/schema"

// Compute totals the counters of plays. It is pure: the result depends only
// on the plays given. Plays that fail validation are ignored.
func Compute(plays []*schema.PlayResult) schema.Counters {
	var c schema.Counters
	for _, p := range plays {
		if p == nil || p.ValidateEvent() != nil {
			continue
		}

		c.PlateAppearances++
		if p.Type.IsAtBat() {
			c.AtBats++
		}
		if p.Type.IsHit() {
			c.Hits++
		}
		c.TotalBases += p.Type.Bases()
		c.Runs += p.Runs
		c.RBIs += p.RBIs

		switch p.Type {
		case schema.PlaySingle:
			c.Singles++
		case schema.PlayDouble:
			c.Doubles++
		case schema.PlayTriple:
			c.Triples++
		case schema.PlayHomeRun:
			c.HomeRuns++
		case schema.PlayWalk:
			c.Walks++
		case schema.PlayStrikeout:
			c.Strikeouts++
		case schema.PlayGroundout:
			c.Groundouts++
		case schema.PlayFlyout:
			c.Flyouts++
		case schema.PlayHitByPitch:
			c.HitByPitch++
		case schema.PlaySacrificeFly:
			c.SacrificeFlies++
		}
	}
	return c
}

// Rates derives the percentages of c. A zero denominator yields 0.
func Rates(c schema.Counters) schema.Rates {
	var r schema.Rates
	r.BattingAverage = ratio(c.Hits, c.AtBats)
	r.OnBasePercentage = ratio(c.Hits+c.Walks+c.HitByPitch, c.AtBats+c.Walks+c.HitByPitch+c.SacrificeFlies)
	r.Slugging = ratio(c.TotalBases, c.AtBats)
	r.OPS = r.OnBasePercentage + r.Slugging
	return r
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
