package channel

import (
	"fmt"

	"github.com/example/dispatch-service/internal/store"
)

// Registry holds the closed set of configured adapters plus the process-wide
// default. Resolution is a pure lookup; it performs no I/O.
type Registry struct {
	adapters    map[string]Adapter
	defaultName string
}

func NewRegistry(defaultName string, adapters ...Adapter) *Registry {
	r := &Registry{
		adapters:    make(map[string]Adapter, len(adapters)),
		defaultName: defaultName,
	}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

func (r *Registry) Default() (Adapter, error) {
	if a, ok := r.adapters[r.defaultName]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: default %q not registered", ErrNoAdapter, r.defaultName)
}

// ResolveFor picks the adapter for one recipient. Precedence: the contact's
// preferred channel when that adapter is registered and the contact carries a
// usable identifier for it, then the notification's declared channel, then
// the configured default.
func (r *Registry) ResolveFor(n store.Notification, c store.Contact) (Adapter, error) {
	if pref := c.PreferredChannel; pref != "" {
		if a, ok := r.adapters[string(pref)]; ok {
			if _, has := c.Identifier(pref); has {
				return a, nil
			}
		}
	}
	if n.Channel != "" {
		if a, ok := r.adapters[string(n.Channel)]; ok {
			return a, nil
		}
	}
	return r.Default()
}
