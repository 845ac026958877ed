// Package checkpoint implements epoch-indexed, append-only value histories
// with binary-search lookup.
package checkpoint

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// ErrStaleEpoch is returned when pushing a checkpoint for an epoch lower
// than the last recorded one.
var ErrStaleEpoch = errors.New("checkpoint epoch is lower than the last recorded epoch")

// Entry is a single (epoch, value) pair of a history.
type Entry[T any] struct {
	Epoch uint64 `json:"epoch"`
	Value T      `json:"value"`
}

// History is an ordered sequence of (epoch, value) pairs, strictly
// increasing by epoch. A push for the last entry's epoch replaces that
// entry's value instead of appending a duplicate.
type History[T any] struct {
	entries []Entry[T]
}

func NewHistory[T any]() *History[T] {
	return &History[T]{}
}

// Push records value for the given epoch. Pushing the last entry's epoch
// coalesces into that entry; pushing a lower epoch fails.
func (h *History[T]) Push(epoch uint64, value T) error {
	if n := len(h.entries); n > 0 {
		last := &h.entries[n-1]
		if epoch < last.Epoch {
			return errors.Wrapf(ErrStaleEpoch, "epoch %d < %d", epoch, last.Epoch)
		}
		if epoch == last.Epoch {
			last.Value = value
			return nil
		}
	}
	h.entries = append(h.entries, Entry[T]{Epoch: epoch, Value: value})
	return nil
}

// Lookup returns the value of the rightmost entry with epoch <= the target,
// or the zero value and false when no such entry exists.
func (h *History[T]) Lookup(epoch uint64) (T, bool) {
	// Index of the first entry with Epoch > epoch.
	i := sort.Search(len(h.entries), func(i int) bool {
		return h.entries[i].Epoch > epoch
	})
	if i == 0 {
		var zero T
		return zero, false
	}
	return h.entries[i-1].Value, true
}

// Latest returns the last recorded entry.
func (h *History[T]) Latest() (Entry[T], bool) {
	if len(h.entries) == 0 {
		return Entry[T]{}, false
	}
	return h.entries[len(h.entries)-1], true
}

func (h *History[T]) Len() int {
	return len(h.entries)
}

// Entries returns a copy of the underlying entries.
func (h *History[T]) Entries() []Entry[T] {
	out := make([]Entry[T], len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History[T]) MarshalJSON() ([]byte, error) {
	// An empty history must encode as [] rather than null: a null history
	// would unmarshal a containing struct's *History field to nil.
	if h.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h.entries)
}

func (h *History[T]) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &h.entries)
}
