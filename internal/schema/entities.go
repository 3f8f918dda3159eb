package schema

import (
	"fmt"
	"time"
)

// Profile is the account-scoped athlete profile. It owns seasons.
type Profile struct {
	Meta `json:"-"`

	Name         string `json:"name"`
	Position     string `json:"position,omitempty"`
	Bats         string `json:"bats,omitempty"`   // L, R, S
	Throws       string `json:"throws,omitempty"` // L, R
	JerseyNumber int    `json:"jersey_number,omitempty"`
}

// Validate checks if the Profile has valid field values.
func (p *Profile) Validate() error {
	if err := p.ValidateMeta(); err != nil {
		return err
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(p.Name) > 200 {
		return fmt.Errorf("name must be 200 characters or less (got %d)", len(p.Name))
	}
	if p.JerseyNumber < 0 || p.JerseyNumber > 99 {
		return fmt.Errorf("jersey number must be between 0 and 99 (got %d)", p.JerseyNumber)
	}
	return nil
}

// Season belongs to a Profile and owns games and practices.
type Season struct {
	Meta `json:"-"`

	Name   string `json:"name"`
	Year   int    `json:"year"`
	Active bool   `json:"active"`
}

// Validate checks if the Season has valid field values.
func (s *Season) Validate() error {
	if err := s.ValidateMeta(); err != nil {
		return err
	}
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Year < 1900 || s.Year > 3000 {
		return fmt.Errorf("year out of range (got %d)", s.Year)
	}
	return nil
}

// Game belongs to a Season. Its aggregate statistics live in a separate
// StatisticsSnapshot derived from the game's play results.
type Game struct {
	Meta `json:"-"`

	Opponent     string    `json:"opponent"`
	Location     string    `json:"location,omitempty"`
	PlayedAt     time.Time `json:"played_at"`
	Home         bool      `json:"home"`
	Finalized    bool      `json:"finalized"`
	TeamRuns     int       `json:"team_runs"`
	OpponentRuns int       `json:"opponent_runs"`
}

// Validate checks if the Game has valid field values.
func (g *Game) Validate() error {
	if err := g.ValidateMeta(); err != nil {
		return err
	}
	if g.Opponent == "" {
		return fmt.Errorf("opponent is required")
	}
	if g.PlayedAt.IsZero() {
		return fmt.Errorf("played_at is required")
	}
	if g.TeamRuns < 0 || g.OpponentRuns < 0 {
		return fmt.Errorf("runs must be non-negative")
	}
	return nil
}

// Practice belongs to a Season and owns video clips and notes.
type Practice struct {
	Meta `json:"-"`

	Title       string    `json:"title"`
	Notes       string    `json:"notes,omitempty"`
	PracticedAt time.Time `json:"practiced_at"`
}

// Validate checks if the Practice has valid field values.
func (p *Practice) Validate() error {
	if err := p.ValidateMeta(); err != nil {
		return err
	}
	if p.Title == "" {
		return fmt.Errorf("title is required")
	}
	if p.PracticedAt.IsZero() {
		return fmt.Errorf("practiced_at is required")
	}
	return nil
}

// VideoClip is the descriptive metadata of a recorded clip. The video bytes
// are moved by the file transfer path; only StorageRef is synchronized.
type VideoClip struct {
	Meta `json:"-"`

	FileName   string        `json:"file_name"`
	StorageRef string        `json:"storage_ref,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
	Duration   time.Duration `json:"duration"`
	Highlight  bool          `json:"highlight"`

	// LocalPath points at the file on this device. Empty when the clip was
	// recorded elsewhere and the file is not present here.
	LocalPath string `json:"local_path,omitempty"`
}

// Validate checks if the VideoClip has valid field values.
func (v *VideoClip) Validate() error {
	if err := v.ValidateMeta(); err != nil {
		return err
	}
	if v.FileName == "" {
		return fmt.Errorf("file_name is required")
	}
	if v.RecordedAt.IsZero() {
		return fmt.Errorf("recorded_at is required")
	}
	if v.Duration < 0 {
		return fmt.Errorf("duration must be non-negative")
	}
	return nil
}

// PlayableHere reports whether the clip file is available on this device.
func (v *VideoClip) PlayableHere() bool {
	return v.LocalPath != ""
}
