package schema

import "fmt"

// Kind identifies one synchronized entity type.
type Kind string

const (
	KindProfile    Kind = "profile"
	KindSeason     Kind = "season"
	KindGame       Kind = "game"
	KindPractice   Kind = "practice"
	KindVideoClip  Kind = "video_clip"
	KindPlayResult Kind = "play_result"
	KindStatistics Kind = "statistics"
)

// SyncOrder is the fixed topological order in which kinds are synchronized.
var SyncOrder = []Kind{
	KindProfile,
	KindSeason,
	KindGame,
	KindPractice,
	KindVideoClip,
	KindPlayResult,
	KindStatistics,
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.IsValid() {
		return "", fmt.Errorf("unknown entity kind: %q", s)
	}
	return k, nil
}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	for _, known := range SyncOrder {
		if k == known {
			return true
		}
	}
	return false
}

// Rank returns the position of k in SyncOrder, or -1 for unknown kinds.
func (k Kind) Rank() int {
	for i, known := range SyncOrder {
		if k == known {
			return i
		}
	}
	return -1
}

// ParentKinds returns the kinds that may own an entity of kind k.
// Profiles are owned by the account and have no parent kind.
func (k Kind) ParentKinds() []Kind {
	switch k {
	case KindSeason:
		return []Kind{KindProfile}
	case KindGame, KindPractice:
		return []Kind{KindSeason}
	case KindVideoClip:
		return []Kind{KindGame, KindPractice}
	case KindPlayResult:
		return []Kind{KindVideoClip}
	case KindStatistics:
		return []Kind{KindGame, KindProfile}
	default:
		return nil
	}
}

// ChildKinds returns the kinds that may reference an entity of kind k as parent.
func (k Kind) ChildKinds() []Kind {
	var children []Kind
	for _, candidate := range SyncOrder {
		for _, parent := range candidate.ParentKinds() {
			if parent == k {
				children = append(children, candidate)
				break
			}
		}
	}
	return children
}

// AcceptsParent reports whether parent is a valid owner kind for k.
func (k Kind) AcceptsParent(parent Kind) bool {
	for _, p := range k.ParentKinds() {
		if p == parent {
			return true
		}
	}
	return false
}

// IsRoot reports whether k hangs directly off the account.
func (k Kind) IsRoot() bool {
	return k == KindProfile
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return string(k)
}
