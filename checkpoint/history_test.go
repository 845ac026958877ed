package checkpoint

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHistory_PushAndLookup(t *testing.T) {
	h := NewHistory[uint64]()

	_, found := h.Lookup(10)
	require.False(t, found)

	require.NoError(t, h.Push(4, 500))
	require.NoError(t, h.Push(7, 600))

	t.Run("before first entry", func(t *testing.T) {
		_, found := h.Lookup(3)
		require.False(t, found)
	})

	t.Run("exact epoch", func(t *testing.T) {
		v, found := h.Lookup(4)
		require.True(t, found)
		require.Equal(t, uint64(500), v)
	})

	t.Run("value persists until next push", func(t *testing.T) {
		for e := uint64(4); e < 7; e++ {
			v, found := h.Lookup(e)
			require.True(t, found)
			require.Equal(t, uint64(500), v)
		}
		v, found := h.Lookup(7)
		require.True(t, found)
		require.Equal(t, uint64(600), v)
		v, found = h.Lookup(1000)
		require.True(t, found)
		require.Equal(t, uint64(600), v)
	})
}

func TestHistory_Coalescing(t *testing.T) {
	h := NewHistory[uint64]()

	require.NoError(t, h.Push(4, 500))
	require.NoError(t, h.Push(4, 700))
	require.Equal(t, 1, h.Len())

	v, found := h.Lookup(4)
	require.True(t, found)
	require.Equal(t, uint64(700), v)
}

func TestHistory_RejectsStaleEpoch(t *testing.T) {
	h := NewHistory[uint64]()

	require.NoError(t, h.Push(4, 500))
	err := h.Push(3, 100)
	require.ErrorIs(t, err, ErrStaleEpoch)
	require.Equal(t, 1, h.Len())
}

func TestHistory_Latest(t *testing.T) {
	h := NewHistory[uint64]()

	_, found := h.Latest()
	require.False(t, found)

	require.NoError(t, h.Push(4, 500))
	require.NoError(t, h.Push(9, 600))

	latest, found := h.Latest()
	require.True(t, found)
	require.Equal(t, uint64(9), latest.Epoch)
	require.Equal(t, uint64(600), latest.Value)
}

func TestHistory_JSONRoundTrip(t *testing.T) {
	h := NewHistory[*big.Int]()
	require.NoError(t, h.Push(4, big.NewInt(500)))
	require.NoError(t, h.Push(7, big.NewInt(600)))

	data, err := json.Marshal(h)
	require.NoError(t, err)

	restored := NewHistory[*big.Int]()
	require.NoError(t, json.Unmarshal(data, restored))
	require.Equal(t, 2, restored.Len())

	v, found := restored.Lookup(5)
	require.True(t, found)
	require.Equal(t, 0, v.Cmp(big.NewInt(500)))
}

func TestHistory_EmptyJSONEncodesAsArray(t *testing.T) {
	data, err := json.Marshal(NewHistory[uint64]())
	require.NoError(t, err)
	require.JSONEq(t, "[]", string(data))

	// A pointer field of a containing struct must survive the round trip
	// allocated, null would unmarshal it to nil.
	type holder struct {
		History *History[uint64] `json:"history"`
	}
	raw, err := json.Marshal(holder{History: NewHistory[uint64]()})
	require.NoError(t, err)

	var restored holder
	require.NoError(t, json.Unmarshal(raw, &restored))
	require.NotNil(t, restored.History)
	require.NoError(t, restored.History.Push(1, 100))
}
