package core

import (
	"sync"

	"github.com/MswTester/sendrop/logger"
	"github.com/MswTester/sendrop/types"
)

// Broadcaster pushes the device list to every connected device.
// Calls are serialized so recipients observe membership changes in order.
type Broadcaster struct {
	registry *Registry
	log      logger.Logger

	mu sync.Mutex
}

func NewBroadcaster(registry *Registry, log logger.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		log:      log,
	}
}

func (b *Broadcaster) Broadcast() {
	b.mu.Lock()
	defer b.mu.Unlock()

	members := b.registry.copyMembers()

	for id, m := range members {
		env, err := types.NewEnvelope(types.EventUpdateDevices, viewFor(id, members))
		if err != nil {
			b.log.WithErr(err).Error("failed to encode device list")
			return
		}

		if err := m.out.Send(env); err != nil {
			b.log.WithStr("device", id).WithErr(err).Warn("device list not delivered")
		}
	}

	b.log.WithInt("devices", len(members)).Debug("device list broadcast")
}
