package schema

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func validMeta(kind Kind, parent Kind) Meta {
	m := Meta{Kind: kind, LocalID: "local-1", AccountID: "acct-1"}
	if parent != "" {
		m.ParentKind = parent
		m.ParentLocalID = "parent-1"
	}
	return m
}

func TestEntity_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		entity  Entity
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid profile",
			entity: &Profile{Meta: validMeta(KindProfile, ""), Name: "Casey", JerseyNumber: 7},
		},
		{
			name:    "profile missing name",
			entity:  &Profile{Meta: validMeta(KindProfile, "")},
			wantErr: true,
			errMsg:  "name is required",
		},
		{
			name:    "profile jersey out of range",
			entity:  &Profile{Meta: validMeta(KindProfile, ""), Name: "Casey", JerseyNumber: 120},
			wantErr: true,
			errMsg:  "jersey number",
		},
		{
			name:   "valid season",
			entity: &Season{Meta: validMeta(KindSeason, KindProfile), Name: "Spring", Year: 2026},
		},
		{
			name:    "season without parent",
			entity:  &Season{Meta: Meta{Kind: KindSeason, LocalID: "s", AccountID: "a"}, Name: "Spring", Year: 2026},
			wantErr: true,
			errMsg:  "requires a parent",
		},
		{
			name:   "orphaned season is allowed without parent",
			entity: &Season{Meta: Meta{Kind: KindSeason, LocalID: "s", AccountID: "a", Orphaned: true}, Name: "Spring", Year: 2026},
		},
		{
			name:    "game with wrong parent kind",
			entity:  &Game{Meta: validMeta(KindGame, KindProfile), Opponent: "Tigers", PlayedAt: now},
			wantErr: true,
			errMsg:  "cannot belong to",
		},
		{
			name:    "game missing played_at",
			entity:  &Game{Meta: validMeta(KindGame, KindSeason), Opponent: "Tigers"},
			wantErr: true,
			errMsg:  "played_at is required",
		},
		{
			name:   "clip under practice",
			entity: &VideoClip{Meta: validMeta(KindVideoClip, KindPractice), FileName: "swing.mov", RecordedAt: now},
		},
		{
			name:    "play with unknown type",
			entity:  &PlayResult{Meta: validMeta(KindPlayResult, KindVideoClip), Type: "bunt", RecordedAt: now},
			wantErr: true,
			errMsg:  "invalid play type",
		},
		{
			name:    "play with too many rbis",
			entity:  &PlayResult{Meta: validMeta(KindPlayResult, KindVideoClip), Type: PlayHomeRun, RBIs: 5, RecordedAt: now},
			wantErr: true,
			errMsg:  "rbis",
		},
		{
			name:    "snapshot with bad scope",
			entity:  &StatisticsSnapshot{Meta: validMeta(KindStatistics, KindGame), ScopeKind: KindSeason, ComputedAt: now},
			wantErr: true,
			errMsg:  "invalid scope kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entity.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestPayloadExcludesMeta(t *testing.T) {
	g := &Game{Meta: validMeta(KindGame, KindSeason), Opponent: "Tigers", PlayedAt: time.Unix(0, 0).UTC()}
	g.RemoteID = "remote-1"
	g.Dirty = true

	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	for _, leaked := range []string{"remote-1", "LocalID", "Dirty"} {
		if strings.Contains(string(data), leaked) {
			t.Errorf("payload %s leaks %q", data, leaked)
		}
	}
}

func TestPlayType_Classification(t *testing.T) {
	tests := []struct {
		typ   PlayType
		atBat bool
		hit   bool
		bases int
	}{
		{PlaySingle, true, true, 1},
		{PlayDouble, true, true, 2},
		{PlayTriple, true, true, 3},
		{PlayHomeRun, true, true, 4},
		{PlayWalk, false, false, 0},
		{PlayHitByPitch, false, false, 0},
		{PlaySacrificeFly, false, false, 0},
		{PlayStrikeout, true, false, 0},
		{PlayGroundout, true, false, 0},
		{PlayFlyout, true, false, 0},
		{PlayType("bunt"), false, false, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.IsAtBat(); got != tt.atBat {
				t.Errorf("IsAtBat() = %v, want %v", got, tt.atBat)
			}
			if got := tt.typ.IsHit(); got != tt.hit {
				t.Errorf("IsHit() = %v, want %v", got, tt.hit)
			}
			if got := tt.typ.Bases(); got != tt.bases {
				t.Errorf("Bases() = %d, want %d", got, tt.bases)
			}
		})
	}
}

func TestNew(t *testing.T) {
	for _, kind := range SyncOrder {
		e, err := New(kind)
		if err != nil {
			t.Fatalf("New(%s) failed: %v", kind, err)
		}
		if e.SyncMeta().Kind != kind {
			t.Errorf("New(%s).Kind = %s", kind, e.SyncMeta().Kind)
		}
	}
	if _, err := New("team"); err == nil {
		t.Error("New(team) should fail")
	}
}
