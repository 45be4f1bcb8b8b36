package adaptor

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry holds the available adaptors in registration order. Probing
// order is significant: when no id is forced, the first adaptor whose
// Matches accepts the signature wins.
type Registry struct {
	adaptors *orderedmap.OrderedMap[string, Adaptor]
}

// NewRegistry creates a registry holding the given adaptors in order.
func NewRegistry(adaptors ...Adaptor) *Registry {
	r := &Registry{adaptors: orderedmap.New[string, Adaptor]()}
	for _, a := range adaptors {
		r.Register(a)
	}
	return r
}

// Register appends an adaptor. Registering an id twice replaces the
// earlier entry but keeps its position.
func (r *Registry) Register(a Adaptor) {
	r.adaptors.Set(a.ID(), a)
}

// Get returns the adaptor with the given id.
func (r *Registry) Get(id string) (Adaptor, bool) {
	return r.adaptors.Get(id)
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, r.adaptors.Len())
	for pair := r.adaptors.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return ids
}

// Select resolves the adaptor for a discovered peripheral. A non-empty
// forcedID wins unconditionally, without consulting Matches; otherwise the
// adaptors are probed in registration order.
func (r *Registry) Select(sig Signature, forcedID string) (Adaptor, error) {
	if forcedID != "" {
		a, ok := r.adaptors.Get(forcedID)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAdaptor, forcedID)
		}
		return a, nil
	}

	for pair := r.adaptors.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Matches(sig) {
			return pair.Value, nil
		}
	}
	return nil, ErrNoCompatibleAdaptor
}
