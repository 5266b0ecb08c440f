package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNotifyInvokesListenersInRegistrationOrder(t *testing.T) {
	w := New()
	var order []int
	w.OnChange("k", func(interface{}) { order = append(order, 1) })
	w.OnChange("k", func(interface{}) { order = append(order, 2) })
	w.OnChange("k", func(interface{}) { order = append(order, 3) })

	w.Notify("k", 42)

	require.Equal(t, []int{1, 2, 3}, order)
}

func TestNotifyOnlyInvokesListenersForThatKey(t *testing.T) {
	w := New()
	var gotA, gotB bool
	w.OnChange("a", func(interface{}) { gotA = true })
	w.OnChange("b", func(interface{}) { gotB = true })

	w.Notify("a", nil)

	require.True(t, gotA)
	require.False(t, gotB)
}

func TestNotifyPassesValueThrough(t *testing.T) {
	w := New()
	var got interface{}
	w.OnChange(KeyMaxDataSize, func(v interface{}) { got = v })

	w.Notify(KeyMaxDataSize, uint64(12345))

	require.Equal(t, uint64(12345), got)
}

type fakeStore struct {
	listeners map[string]func(interface{})
	failKey   string
}

func (f *fakeStore) AddListener(key string, listener func(value interface{})) error {
	if key == f.failKey {
		return errors.New("boom")
	}
	if f.listeners == nil {
		f.listeners = make(map[string]func(interface{}))
	}
	f.listeners[key] = listener
	return nil
}

func TestAttachRegistersAgainstStoreForEveryListenedKey(t *testing.T) {
	w := New()
	w.OnChange(KeyMaxDataSize, func(interface{}) {})
	w.OnChange(KeyMinCompressionRatio, func(interface{}) {})

	store := &fakeStore{}
	require.NoError(t, w.Attach(store))
	require.Contains(t, store.listeners, KeyMaxDataSize)
	require.Contains(t, store.listeners, KeyMinCompressionRatio)
}

func TestAttachPropagatesStoreChangesThroughNotify(t *testing.T) {
	w := New()
	var got interface{}
	w.OnChange(KeyMaxDataSize, func(v interface{}) { got = v })

	store := &fakeStore{}
	require.NoError(t, w.Attach(store))

	store.listeners[KeyMaxDataSize](uint64(999))

	require.Equal(t, uint64(999), got)
}

func TestAttachFailsIfStoreRejectsAKey(t *testing.T) {
	w := New()
	w.OnChange(KeyMaxDataSize, func(interface{}) {})

	store := &fakeStore{failKey: KeyMaxDataSize}
	require.Error(t, w.Attach(store))
}
