package visibility

import (
	"context"
	"errors"
	"testing"
)

type fakeLister struct {
	calls int
	ids   map[string][]string
	err   error
}

func (f *fakeLister) ListBlockedIDs(_ context.Context, blockerID string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.ids[blockerID], nil
}

type item struct {
	id     string
	author string
}

func authorOf(i item) string { return i.author }

func TestLoadAnonymousSkipsStore(t *testing.T) {
	lister := &fakeLister{}
	set, err := Load(context.Background(), lister, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if set != nil {
		t.Fatalf("anonymous set = %v, want nil", set)
	}
	if lister.calls != 0 {
		t.Fatalf("store called %d times for anonymous viewer", lister.calls)
	}
}

func TestFilter(t *testing.T) {
	items := []item{{"p1", "ann"}, {"p2", "bob"}, {"p3", "cat"}, {"p4", "bob"}}
	lister := &fakeLister{ids: map[string][]string{
		"ann": {"bob"},
		"bob": {"ann"},
	}}

	tests := []struct {
		name   string
		viewer string
		want   []string
	}{
		{name: "anonymous sees everything", viewer: "", want: []string{"p1", "p2", "p3", "p4"}},
		{name: "blocked author hidden in order", viewer: "ann", want: []string{"p1", "p3"}},
		{name: "block is one directional", viewer: "cat", want: []string{"p1", "p2", "p3", "p4"}},
		{name: "other viewer", viewer: "bob", want: []string{"p2", "p3", "p4"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			set, err := Load(context.Background(), lister, tc.viewer)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			got := Filter(set, items, authorOf)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d items, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i].id != tc.want[i] {
					t.Fatalf("item %d = %s, want %s", i, got[i].id, tc.want[i])
				}
			}
		})
	}
}

func TestLoadPropagatesStoreError(t *testing.T) {
	boom := errors.New("boom")
	if _, err := Load(context.Background(), &fakeLister{err: boom}, "ann"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestSetIDs(t *testing.T) {
	var anonymous Set
	if ids := anonymous.IDs(); ids != nil {
		t.Fatalf("nil set IDs = %v, want nil", ids)
	}
	set := Set{"u-c": {}, "u-a": {}, "u-b": {}}
	ids := set.IDs()
	if len(ids) != 3 || ids[0] != "u-a" || ids[1] != "u-b" || ids[2] != "u-c" {
		t.Fatalf("IDs = %v, want sorted [u-a u-b u-c]", ids)
	}
}
