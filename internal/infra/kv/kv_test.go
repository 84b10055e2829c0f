package kv

import (
	"context"
	"errors"
	"testing"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	disk, err := OpenBadger(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	mem, err := OpenBadger("", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		disk.Close()
		mem.Close()
	})
	return map[string]Store{"memory": NewMemory(), "badger": disk, "badger-inmem": mem}
}

func TestStore_GetSetList(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Get(ctx, Key{"calls", "x"}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing key err = %v", err)
			}
			err := s.BatchSet(ctx, []Entry{
				{Key: Key{"calls", "b", "summary"}, Value: []byte("B")},
				{Key: Key{"calls", "a", "summary"}, Value: []byte("A")},
				{Key: Key{"calls", "ab", "summary"}, Value: []byte("AB")},
			})
			if err != nil {
				t.Fatal(err)
			}
			if err := s.Set(ctx, Key{"other"}, []byte("o")); err != nil {
				t.Fatal(err)
			}
			got, err := s.Get(ctx, Key{"calls", "a", "summary"})
			if err != nil || string(got) != "A" {
				t.Fatalf("get = %q, %v", got, err)
			}

			var keys []string
			for e, err := range s.List(ctx, Key{"calls"}) {
				if err != nil {
					t.Fatal(err)
				}
				keys = append(keys, e.Key.String())
			}
			want := []string{"calls/a/summary", "calls/ab/summary", "calls/b/summary"}
			if len(keys) != len(want) {
				t.Fatalf("keys = %v", keys)
			}
			for i := range want {
				if keys[i] != want[i] {
					t.Fatalf("keys = %v, want %v", keys, want)
				}
			}

			n := 0
			for range s.List(ctx, Key{"calls", "a"}) {
				n++
			}
			if n != 1 {
				t.Fatalf("prefix calls/a matched %d entries", n)
			}
		})
	}
}

func TestStore_ListStopsEarly(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		_ = s.Set(ctx, Key{"k", id}, nil)
	}
	n := 0
	for range s.List(ctx, Key{"k"}) {
		n++
		break
	}
	if n != 1 {
		t.Fatalf("iterated %d", n)
	}
}
