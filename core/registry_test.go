package core

import (
	"fmt"
	"sync"
	"testing"

	"github.com/MswTester/sendrop/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	d, err := r.Register("a", "Linux - Firefox/120.0 - Desktop", "10.0.0.5", &recorder{})
	require.NoError(t, err)
	assert.Equal(t, types.Device{ID: "a", UserAgent: "Linux - Firefox/120.0 - Desktop", IP: "10.0.0.5"}, d)

	got, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, d, got)
	assert.True(t, r.Has("a"))
	assert.Equal(t, 1, r.Len())

	_, err = r.Register("a", "", "", &recorder{})
	assert.ErrorIs(t, err, ErrDuplicateDevice)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("a", "", "", &recorder{})
	require.NoError(t, err)

	assert.True(t, r.Unregister("a"))
	assert.False(t, r.Unregister("a"))
	assert.False(t, r.Has("a"))
	assert.Zero(t, r.Len())
}

func TestSnapshotForExcludesRecipient(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Register(id, "ua-"+id, "ip-"+id, &recorder{})
		require.NoError(t, err)
	}

	view := r.SnapshotFor("b")
	assert.Len(t, view, 2)
	assert.NotContains(t, view, "b")
	assert.Equal(t, types.DeviceInfo{UserAgent: "ua-a", IP: "ip-a"}, view["a"])

	snap := r.Snapshot()
	assert.Len(t, snap, 3)

	// The snapshot is a copy.
	delete(snap, "a")
	assert.True(t, r.Has("a"))
}

func TestSendToUnknownDevice(t *testing.T) {
	r := NewRegistry()

	err := r.Send("ghost", types.MustEnvelope(types.EventWelcome, nil))
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestSendSurfacesOutboxFailure(t *testing.T) {
	r := NewRegistry()
	out := &recorder{}
	_, err := r.Register("a", "", "", out)
	require.NoError(t, err)

	out.breakQueue()
	err = r.Send("a", types.MustEnvelope(types.EventWelcome, nil))
	assert.ErrorIs(t, err, errQueueFull)
}

func TestRegistryConcurrentMembership(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("d%d", i)
			_, err := r.Register(id, "", "", &recorder{})
			assert.NoError(t, err)
			if i%2 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.Len())
	for id := range r.Snapshot() {
		assert.True(t, r.Has(id))
	}
}
