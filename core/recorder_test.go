package core

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/MswTester/sendrop/types"
	"github.com/stretchr/testify/require"
)

var errQueueFull = errors.New("queue full")

// recorder is an in-memory Outbox.
type recorder struct {
	mu     sync.Mutex
	frames []types.Envelope
	broken bool
}

func (r *recorder) Send(env types.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.broken {
		return errQueueFull
	}

	r.frames = append(r.frames, env)
	return nil
}

func (r *recorder) breakQueue() {
	r.mu.Lock()
	r.broken = true
	r.mu.Unlock()
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, f.Event)
	}
	return out
}

func (r *recorder) all(event string) []types.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []types.Envelope
	for _, f := range r.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) count(event string) int {
	return len(r.all(event))
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

// last decodes the newest frame of the given event into v.
func (r *recorder) last(t *testing.T, event string, v any) {
	t.Helper()

	frames := r.all(event)
	require.NotEmpty(t, frames, "no %s frame", event)
	require.NoError(t, frames[len(frames)-1].Decode(v))
}

func frame(t *testing.T, event string, data any) []byte {
	t.Helper()

	env, err := types.NewEnvelope(event, data)
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}
