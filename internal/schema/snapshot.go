package schema

import (
	"fmt"
	"time"
)

// Counters are the raw totals of a statistics scope.
type Counters struct {
	PlateAppearances int `json:"plate_appearances"`
	AtBats           int `json:"at_bats"`
	Hits             int `json:"hits"`
	Singles          int `json:"singles"`
	Doubles          int `json:"doubles"`
	Triples          int `json:"triples"`
	HomeRuns         int `json:"home_runs"`
	Walks            int `json:"walks"`
	Strikeouts       int `json:"strikeouts"`
	Groundouts       int `json:"groundouts"`
	Flyouts          int `json:"flyouts"`
	HitByPitch       int `json:"hit_by_pitch"`
	SacrificeFlies   int `json:"sacrifice_flies"`
	Runs             int `json:"runs"`
	RBIs             int `json:"rbis"`
	TotalBases       int `json:"total_bases"`
}

// Rates are the derived percentages of a statistics scope.
type Rates struct {
	BattingAverage   float64 `json:"avg"`
	OnBasePercentage float64 `json:"obp"`
	Slugging         float64 `json:"slg"`
	OPS              float64 `json:"ops"`
}

// StatisticsSnapshot is a derived aggregate over the play results of one
// Game or one Profile. It is never edited directly; it is rebuilt from the
// play results whenever recomputation runs.
type StatisticsSnapshot struct {
	Meta `json:"-"`

	ScopeKind  Kind      `json:"scope_kind"`
	Counters   Counters  `json:"counters"`
	Rates      Rates     `json:"rates"`
	PlayCount  int       `json:"play_count"`
	ComputedAt time.Time `json:"computed_at"`
}

// Validate checks if the StatisticsSnapshot has valid field values.
func (s *StatisticsSnapshot) Validate() error {
	if err := s.ValidateMeta(); err != nil {
		return err
	}
	if s.ScopeKind != KindGame && s.ScopeKind != KindProfile {
		return fmt.Errorf("invalid scope kind %q", s.ScopeKind)
	}
	if s.ComputedAt.IsZero() {
		return fmt.Errorf("computed_at is required")
	}
	return nil
}

// SnapshotLocalID returns the local id of the snapshot for a scope.
// There is exactly one snapshot per scope.
func SnapshotLocalID(scopeKind Kind, scopeLocalID string) string {
	return fmt.Sprintf("stats-%s-%s", scopeKind, scopeLocalID)
}
