package adapter

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/diamondlog/syncd/internal/schema"
)

// Policy selects how conflicts are settled.
type Policy int

const (
	// LastWriteWins keeps the write with the later wall-clock timestamp.
	LastWriteWins Policy = iota
	// RemoteWins always adopts the remote document.
	RemoteWins
	// LocalWins always keeps the local record and re-uploads it.
	LocalWins
)

// ParsePolicy converts a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lww", "last-write-wins":
		return LastWriteWins, nil
	case "remote", "remote-wins":
		return RemoteWins, nil
	case "local", "local-wins":
		return LocalWins, nil
	}
	return LastWriteWins, fmt.Errorf("unknown conflict policy %q", s)
}

func (p Policy) String() string {
	switch p {
	case RemoteWins:
		return "remote-wins"
	case LocalWins:
		return "local-wins"
	default:
		return "last-write-wins"
	}
}

// Outcome is the side that won a conflict.
type Outcome int

const (
	KeepLocal Outcome = iota
	TakeRemote
)

func (o Outcome) String() string {
	if o == TakeRemote {
		return "remote"
	}
	return "local"
}

// Resolution is the definite result of a conflict.
type Resolution struct {
	Outcome Outcome
	// Echo is set when the remote document is this device's own write seen
	// again. It is adopted without counting as a conflict.
	Echo   bool
	Reason string
}

func resolve(a Adapter, local, incoming schema.Entity, policy Policy) Resolution {
	if local == nil {
		return Resolution{Outcome: TakeRemote, Reason: "no local record"}
	}
	lm, im := local.SyncMeta(), incoming.SyncMeta()

	if lm.Origin == im.Origin && lm.ModifiedAt.Equal(im.ModifiedAt) && compareFields(a, local, incoming) == 0 {
		return Resolution{Outcome: TakeRemote, Echo: true, Reason: "own write"}
	}

	switch policy {
	case RemoteWins:
		return Resolution{Outcome: TakeRemote, Reason: "policy"}
	case LocalWins:
		return Resolution{Outcome: KeepLocal, Reason: "policy"}
	}

	switch {
	case im.ModifiedAt.After(lm.ModifiedAt):
		return Resolution{Outcome: TakeRemote, Reason: "remote is newer"}
	case lm.ModifiedAt.After(im.ModifiedAt):
		return Resolution{Outcome: KeepLocal, Reason: "local is newer"}
	}

	// Same timestamp: the decision must depend only on the two writes so
	// every device reaches the same answer.
	localID := lm.RemoteID
	if localID == "" {
		localID = lm.PendingRemoteID
	}
	if c := strings.Compare(localID, im.RemoteID); c != 0 {
		return winner(c, "remote id")
	}
	if c := strings.Compare(lm.Origin, im.Origin); c != 0 {
		return winner(c, "origin")
	}
	if c := compareFields(a, local, incoming); c != 0 {
		return winner(c, "tie-break fields")
	}
	return Resolution{Outcome: TakeRemote, Reason: "identical"}
}

// winner maps a comparison of local against remote to a Resolution where the
// larger side wins.
func winner(c int, reason string) Resolution {
	if c > 0 {
		return Resolution{Outcome: KeepLocal, Reason: "larger " + reason}
	}
	return Resolution{Outcome: TakeRemote, Reason: "larger " + reason}
}

func compareFields(a Adapter, local, incoming schema.Entity) int {
	fields := a.TieBreakFields()
	if len(fields) == 0 {
		return 0
	}
	lj, err := a.Serialize(local)
	if err != nil {
		return 0
	}
	rj, err := a.Serialize(incoming)
	if err != nil {
		return 0
	}

	lv := gjson.GetManyBytes(lj, fields...)
	rv := gjson.GetManyBytes(rj, fields...)
	for i := range fields {
		switch {
		case rv[i].Less(lv[i], true):
			return 1
		case lv[i].Less(rv[i], true):
			return -1
		}
	}
	return 0
}
