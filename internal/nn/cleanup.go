package nn

// Releaser is a constructed graph handle that can drop its references.
type Releaser interface {
	Release()
}

// Registry records graphs created as byproducts of a builder so they can be
// released together. It is not safe for concurrent use.
type Registry struct {
	handles []Releaser
}

func (r *Registry) Track(handles ...Releaser) {
	for _, h := range handles {
		if h != nil {
			r.handles = append(r.handles, h)
		}
	}
}

func (r *Registry) Len() int { return len(r.handles) }

// Purge releases every tracked handle in reverse creation order and empties
// the registry. Calling it again is a no-op.
func (r *Registry) Purge() {
	for i := len(r.handles) - 1; i >= 0; i-- {
		r.handles[i].Release()
		r.handles[i] = nil
	}
	r.handles = nil
}

// Scope runs fn with a fresh registry and purges it afterwards, whether fn
// fails or not.
func Scope(fn func(r *Registry) error) error {
	r := &Registry{}
	defer r.Purge()
	return fn(r)
}
