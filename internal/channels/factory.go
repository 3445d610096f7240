package channels

import (
	"sort"
	"strings"
	"sync"

	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
)

// Adaptors holds one adaptor per channel category.
type Adaptors struct {
	mtx      sync.RWMutex
	registry map[enums.ChannelCategory]Adaptor
}

// NewAdaptors builds a registry seeded with the given adaptors.
func NewAdaptors(adaptors ...Adaptor) *Adaptors {
	r := &Adaptors{registry: make(map[enums.ChannelCategory]Adaptor)}
	for _, a := range adaptors {
		r.Register(a)
	}
	return r
}

// Register stores a, replacing any adaptor of the same category.
func (r *Adaptors) Register(a Adaptor) {
	if a == nil {
		return
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[a.Category()] = a
}

// Get returns the adaptor registered for category.
func (r *Adaptors) Get(category enums.ChannelCategory) (Adaptor, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	key := enums.ChannelCategory(strings.ToLower(strings.TrimSpace(string(category))))
	if a, ok := r.registry[key]; ok {
		return a, nil
	}
	return nil, pkgerrors.Newf(pkgerrors.CodeAdaptor, "no adaptor registered for %q", category)
}

// Categories lists the registered categories in name order.
func (r *Adaptors) Categories() []enums.ChannelCategory {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	out := make([]enums.ChannelCategory, 0, len(r.registry))
	for c := range r.registry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
