// Package prefixlist holds the fast-path prefix lists: their classes, the
// sequence-numbered persisted form, the reconciler that merges a fresh top-N
// selection into it, and the on-disk store.
package prefixlist

import (
	"fmt"
	"sort"
	"strings"
)

// Class identifies a route-filter class. Each class has its own capacity,
// persisted list and sequence-number space.
type Class string

const (
	// LEM is the exact-mask-length class.
	LEM Class = "lem"
	// LPM is the longest-prefix-match (aggregate) class.
	LPM Class = "lpm"
)

// Classes lists every class in reconciliation order.
var Classes = []Class{LEM, LPM}

// ParseClass accepts "lem" or "lpm" in any case.
func ParseClass(s string) (Class, error) {
	switch Class(strings.ToLower(strings.TrimSpace(s))) {
	case LEM:
		return LEM, nil
	case LPM:
		return LPM, nil
	}
	return "", fmt.Errorf("unknown prefix class %q (expected lem or lpm)", s)
}

// ListName is the name of the prefix-list object on the device and of the
// file it is persisted in.
func (c Class) ListName() string {
	return "fib_optimizer_" + string(c) + "_v4"
}

func (c Class) String() string {
	return string(c)
}

// Action is the only action written to fast-path lists.
const Action = "permit"

// Entry is a single prefix list entry.
type Entry struct {
	Sequence int    `json:"sequence"`
	Action   string `json:"action"`
	Prefix   string `json:"prefix"` // CIDR notation
}

// List maps sequence numbers to prefixes. Keys are unique by construction;
// prefixes are unique because every write is a full rewrite from Reconcile.
type List map[int]string

// Sequences returns the sequence numbers in ascending order.
func (l List) Sequences() []int {
	seqs := make([]int, 0, len(l))
	for seq := range l {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	return seqs
}

// Entries returns the list in ascending sequence order.
func (l List) Entries() []Entry {
	entries := make([]Entry, 0, len(l))
	for _, seq := range l.Sequences() {
		entries = append(entries, Entry{Sequence: seq, Action: Action, Prefix: l[seq]})
	}
	return entries
}

// Index returns the reverse mapping prefix -> sequence number.
func (l List) Index() map[string]int {
	idx := make(map[string]int, len(l))
	for seq, p := range l {
		idx[p] = seq
	}
	return idx
}

// CandidateSet is an unordered top-N selection for one class.
type CandidateSet map[string]struct{}

// NewCandidateSet builds a set from prefixes, dropping duplicates.
func NewCandidateSet(prefixes ...string) CandidateSet {
	s := make(CandidateSet, len(prefixes))
	for _, p := range prefixes {
		s[p] = struct{}{}
	}
	return s
}

// Has reports whether prefix is in the set.
func (s CandidateSet) Has(prefix string) bool {
	_, ok := s[prefix]
	return ok
}

// Sorted returns the members in ascending string order.
func (s CandidateSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
