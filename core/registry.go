package core

import (
	"fmt"
	"sync"

	"github.com/MswTester/sendrop/types"
)

// Outbox is the outbound side of a device connection. Send must not block.
type Outbox interface {
	Send(env types.Envelope) error
}

// Waiter is implemented by outboxes that can wait for room. Relayed
// payload goes through SendWait so a slow receiver throttles its sender
// instead of being dropped. SendWait may block; never call it under a lock.
type Waiter interface {
	SendWait(env types.Envelope) error
}

type member struct {
	device types.Device
	out    Outbox
}

type Registry struct {
	mu      sync.RWMutex
	members map[string]*member
}

func NewRegistry() *Registry {
	return &Registry{
		members: make(map[string]*member),
	}
}

func (r *Registry) Register(id, userAgent, ip string, out Outbox) (types.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; ok {
		return types.Device{}, fmt.Errorf("%s: %w", id, ErrDuplicateDevice)
	}

	d := types.Device{ID: id, UserAgent: userAgent, IP: ip}
	r.members[id] = &member{device: d, out: out}

	return d, nil
}

func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; !ok {
		return false
	}

	delete(r.members, id)
	return true
}

func (r *Registry) Snapshot() map[string]types.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(map[string]types.Device, len(r.members))
	for id, m := range r.members {
		snap[id] = m.device
	}

	return snap
}

// SnapshotFor returns every device except id.
func (r *Registry) SnapshotFor(id string) types.UpdateDevices {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return viewFor(id, r.members)
}

func (r *Registry) Lookup(id string) (types.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[id]
	if !ok {
		return types.Device{}, false
	}

	return m.device, true
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.members[id]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.members)
}

func (r *Registry) Send(id string, env types.Envelope) error {
	r.mu.RLock()
	m, ok := r.members[id]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownTarget)
	}

	if err := m.out.Send(env); err != nil {
		return fmt.Errorf("send %s to %s: %w", env.Event, id, err)
	}

	return nil
}

// SendWait delivers like Send but lets a Waiter outbox block for room.
func (r *Registry) SendWait(id string, env types.Envelope) error {
	r.mu.RLock()
	m, ok := r.members[id]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownTarget)
	}

	w, ok := m.out.(Waiter)
	if !ok {
		return r.Send(id, env)
	}

	if err := w.SendWait(env); err != nil {
		return fmt.Errorf("send %s to %s: %w", env.Event, id, err)
	}

	return nil
}

// copyMembers returns a point-in-time copy of the table, outboxes included.
func (r *Registry) copyMembers() map[string]*member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp := make(map[string]*member, len(r.members))
	for id, m := range r.members {
		cp[id] = m
	}

	return cp
}

func viewFor(id string, members map[string]*member) types.UpdateDevices {
	view := make(types.UpdateDevices, len(members))
	for other, m := range members {
		if other == id {
			continue
		}
		view[other] = m.device.Info()
	}

	return view
}
