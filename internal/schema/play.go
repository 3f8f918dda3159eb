package schema

import (
	"fmt"
	"time"
)

// PlayType is the outcome of a single plate appearance.
type PlayType string

const (
	PlaySingle       PlayType = "single"
	PlayDouble       PlayType = "double"
	PlayTriple       PlayType = "triple"
	PlayHomeRun      PlayType = "home_run"
	PlayWalk         PlayType = "walk"
	PlayStrikeout    PlayType = "strikeout"
	PlayGroundout    PlayType = "groundout"
	PlayFlyout       PlayType = "flyout"
	PlayHitByPitch   PlayType = "hit_by_pitch"
	PlaySacrificeFly PlayType = "sacrifice_fly"
)

// IsValid reports whether t is a known play type.
func (t PlayType) IsValid() bool {
	switch t {
	case PlaySingle, PlayDouble, PlayTriple, PlayHomeRun,
		PlayWalk, PlayStrikeout, PlayGroundout, PlayFlyout,
		PlayHitByPitch, PlaySacrificeFly:
		return true
	}
	return false
}

// IsHit reports whether t is a base hit.
func (t PlayType) IsHit() bool {
	switch t {
	case PlaySingle, PlayDouble, PlayTriple, PlayHomeRun:
		return true
	}
	return false
}

// IsAtBat reports whether t counts as an official at-bat.
// Walks, hit-by-pitch and sacrifice flies do not.
func (t PlayType) IsAtBat() bool {
	switch t {
	case PlayWalk, PlayHitByPitch, PlaySacrificeFly:
		return false
	}
	return t.IsValid()
}

// Bases returns the total bases credited for t.
func (t PlayType) Bases() int {
	switch t {
	case PlaySingle:
		return 1
	case PlayDouble:
		return 2
	case PlayTriple:
		return 3
	case PlayHomeRun:
		return 4
	}
	return 0
}

// PlayResult is the immutable atomic event from which statistics are derived.
// An edit is modeled as deleting the old result and creating a new one.
type PlayResult struct {
	Meta `json:"-"`

	Type       PlayType  `json:"type"`
	Inning     int       `json:"inning,omitempty"`
	Runs       int       `json:"runs,omitempty"`
	RBIs       int       `json:"rbis,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Validate checks if the PlayResult has valid field values.
func (p *PlayResult) Validate() error {
	if err := p.ValidateMeta(); err != nil {
		return err
	}
	return p.ValidateEvent()
}

// ValidateEvent checks only the event fields, for data that came from storage
// or the wire with possibly incomplete metadata.
func (p *PlayResult) ValidateEvent() error {
	if !p.Type.IsValid() {
		return fmt.Errorf("invalid play type %q", p.Type)
	}
	if p.Inning < 0 {
		return fmt.Errorf("inning must be non-negative (got %d)", p.Inning)
	}
	if p.Runs < 0 || p.Runs > 1 {
		return fmt.Errorf("runs scored by the batter must be 0 or 1 (got %d)", p.Runs)
	}
	if p.RBIs < 0 || p.RBIs > 4 {
		return fmt.Errorf("rbis must be between 0 and 4 (got %d)", p.RBIs)
	}
	if p.RecordedAt.IsZero() {
		return fmt.Errorf("recorded_at is required")
	}
	return nil
}
