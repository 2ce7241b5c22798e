package collective

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/blocksparse/types/xsync"
)

// Registry keeps track of named process groups of a single element type, so
// independently constructed shapes that want to join the same collective can
// find each other by name instead of threading a *Group[T] through every
// call site.
type Registry[T Number] struct {
	groups xsync.SyncMap[string, *Group[T]]
}

// NewRegistry creates an empty Registry.
func NewRegistry[T Number]() *Registry[T] {
	return &Registry[T]{}
}

// GetOrCreate returns the named group, creating it with the given size if it
// does not exist yet. It panics if the group exists with a different size.
func (r *Registry[T]) GetOrCreate(name string, size int) *Group[T] {
	group := NewGroup[T](size)
	actual, loaded := r.groups.LoadOrStore(name, group)
	if loaded && actual.Size() != size {
		exceptions.Panicf("collective: group %q already registered with size %d, want %d", name, actual.Size(), size)
	}
	return actual
}

// Lookup returns the named group, if it has been created.
func (r *Registry[T]) Lookup(name string) (*Group[T], bool) {
	return r.groups.Load(name)
}

// Forget removes the named group from the registry.
func (r *Registry[T]) Forget(name string) {
	r.groups.Delete(name)
}
