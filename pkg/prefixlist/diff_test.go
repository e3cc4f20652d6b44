package prefixlist

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDiff(t *testing.T) {
	old := List{1: "10.0.0.0/24", 2: "10.0.1.0/24", 3: "10.0.2.0/24"}
	new := List{1: "10.0.0.0/24", 3: "10.0.2.0/24", 4: "10.0.3.0/24"}

	want := []Change{
		{Type: ChangeRemove, Sequence: 2, Prefix: "10.0.1.0/24"},
		{Type: ChangeAdd, Sequence: 4, Prefix: "10.0.3.0/24"},
	}
	if diff := cmp.Diff(want, Diff(old, new)); diff != "" {
		t.Errorf("Diff() mismatch (-want +got):\n%s", diff)
	}
}

func TestDiff_SameSequenceReplaced(t *testing.T) {
	old := List{2: "10.0.1.0/24"}
	new := List{2: "10.0.9.0/24"}

	want := []Change{
		{Type: ChangeRemove, Sequence: 2, Prefix: "10.0.1.0/24"},
		{Type: ChangeAdd, Sequence: 2, Prefix: "10.0.9.0/24"},
	}
	if diff := cmp.Diff(want, Diff(old, new)); diff != "" {
		t.Errorf("Diff() mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarize(t *testing.T) {
	old := List{1: "a", 2: "b", 3: "c"}
	new := List{1: "a", 3: "c", 4: "d", 5: "e"}

	want := Summary{Retained: 2, Added: 2, Removed: 1, Total: 4}
	if got := Summarize(old, new); got != want {
		t.Errorf("Summarize() = %+v, want %+v", got, want)
	}
}

func TestSummarize_Bootstrap(t *testing.T) {
	got := Summarize(nil, List{1: "a", 2: "b"})
	if got.Added != 2 || got.Retained != 0 || got.Removed != 0 {
		t.Errorf("Summarize(bootstrap) = %+v", got)
	}
}
