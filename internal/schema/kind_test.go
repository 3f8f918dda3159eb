package schema

import "testing"

func TestSyncOrder_ParentsComeFirst(t *testing.T) {
	for _, kind := range SyncOrder {
		for _, parent := range kind.ParentKinds() {
			if parent.Rank() >= kind.Rank() {
				t.Errorf("%s is synced before its parent %s", kind, parent)
			}
		}
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{in: "game", want: KindGame},
		{in: "play_result", want: KindPlayResult},
		{in: "statistics", want: KindStatistics},
		{in: "team", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestChildKinds(t *testing.T) {
	children := KindSeason.ChildKinds()
	if len(children) != 2 || children[0] != KindGame || children[1] != KindPractice {
		t.Errorf("season children = %v, want [game practice]", children)
	}

	if got := KindStatistics.ChildKinds(); len(got) != 0 {
		t.Errorf("statistics children = %v, want none", got)
	}

	gameChildren := KindGame.ChildKinds()
	if len(gameChildren) != 2 || gameChildren[0] != KindVideoClip || gameChildren[1] != KindStatistics {
		t.Errorf("game children = %v, want [video_clip statistics]", gameChildren)
	}
}

func TestAcceptsParent(t *testing.T) {
	if !KindVideoClip.AcceptsParent(KindPractice) {
		t.Error("video clips may belong to practices")
	}
	if KindPlayResult.AcceptsParent(KindGame) {
		t.Error("play results belong to clips, not games")
	}
	if !KindProfile.IsRoot() || KindSeason.IsRoot() {
		t.Error("only profiles are root entities")
	}
}

func TestKindOf(t *testing.T) {
	for _, kind := range SyncOrder {
		e, err := New(kind)
		if err != nil {
			t.Fatalf("New(%s) failed: %v", kind, err)
		}
		if got := KindOf(e); got != kind {
			t.Errorf("KindOf(New(%s)) = %s", kind, got)
		}
	}
}
