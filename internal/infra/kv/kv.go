// Package kv is a small ordered key-value store with hierarchical keys,
// backed by Badger on disk or a map in memory.
package kv

import (
	"context"
	"errors"
	"iter"
	"strings"
)

var ErrNotFound = errors.New("kv: not found")

// sep joins key segments. Segments must not contain it.
const sep = '/'

// Key is a hierarchical path such as {"calls", "<id>", "summary"}.
type Key []string

func (k Key) String() string { return strings.Join(k, string(sep)) }

func (k Key) bytes() []byte { return []byte(k.String()) }

// prefix is the encoded form used for List: a trailing separator keeps
// "calls/a" from matching "calls/ab".
func (k Key) prefix() []byte {
	if len(k) == 0 {
		return nil
	}
	return append(k.bytes(), sep)
}

func decode(b []byte) Key { return Key(strings.Split(string(b), string(sep))) }

type Entry struct {
	Key   Key
	Value []byte
}

// Store is safe for concurrent use.
type Store interface {
	// Get returns ErrNotFound for a missing key.
	Get(ctx context.Context, key Key) ([]byte, error)
	Set(ctx context.Context, key Key, value []byte) error
	// BatchSet writes all entries or none.
	BatchSet(ctx context.Context, entries []Entry) error
	// List yields entries under prefix in lexicographic key order.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]
	Close() error
}
