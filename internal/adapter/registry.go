package adapter

import (
	"fmt"

	"github.com/sitenotify/dispatch/internal/domain"
)

// Registry resolves the ChannelAdapter for a given channel. internal/worker
// looks up the adapter once per job rather than holding a single adapter
// reference, so channels can be added without touching worker code.
type Registry struct {
	adapters map[domain.Channel]domain.ChannelAdapter
}

// NewRegistry builds a Registry from a channel-to-adapter map.
func NewRegistry(adapters map[domain.Channel]domain.ChannelAdapter) *Registry {
	return &Registry{adapters: adapters}
}

// Get returns the adapter registered for channel, or an error if none
// was wired — a configuration bug, not a tenant-facing failure.
func (r *Registry) Get(channel domain.Channel) (domain.ChannelAdapter, error) {
	a, ok := r.adapters[channel]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for channel %q", channel)
	}
	return a, nil
}
