package prefixlist

import "sort"

// ChangeType is the kind of a list change
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeRemove ChangeType = "remove"
)

// Change is one entry added to or removed from a list.
type Change struct {
	Type     ChangeType `json:"type"`
	Sequence int        `json:"sequence"`
	Prefix   string     `json:"prefix"`
}

// Summary counts the effect of replacing one list with another.
type Summary struct {
	Retained int `json:"retained"`
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Total    int `json:"total"`
}

// Diff lists the entries removed from old and added in new, ordered by
// sequence number with removals first.
func Diff(old, new List) []Change {
	var changes []Change
	for seq, p := range old {
		if new[seq] != p {
			changes = append(changes, Change{Type: ChangeRemove, Sequence: seq, Prefix: p})
		}
	}
	for seq, p := range new {
		if old[seq] != p {
			changes = append(changes, Change{Type: ChangeAdd, Sequence: seq, Prefix: p})
		}
	}
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Sequence != changes[j].Sequence {
			return changes[i].Sequence < changes[j].Sequence
		}
		return changes[i].Type == ChangeRemove && changes[j].Type == ChangeAdd
	})
	return changes
}

// Summarize counts retained, added and removed entries.
func Summarize(old, new List) Summary {
	s := Summary{Total: len(new)}
	for _, c := range Diff(old, new) {
		switch c.Type {
		case ChangeAdd:
			s.Added++
		case ChangeRemove:
			s.Removed++
		}
	}
	s.Retained = len(new) - s.Added
	return s
}
