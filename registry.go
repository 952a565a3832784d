package msgnet

import (
	"reflect"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Tag identifies a message variant on the wire.
type Tag int32

// Termination sentinels. Neither can be bound to a message type.
const (
	TagEndOfStream Tag = 0
	TagTerminate   Tag = -1
)

// Reserved reports whether t is a termination sentinel.
func (t Tag) Reserved() bool {
	return t == TagEndOfStream || t == TagTerminate
}

// Factory returns a fresh, zero-valued instance of one message variant.
type Factory func() Message

// Registry maps tags to message factories and message types back to tags.
// Build it once at startup and share the same *Registry between every
// component that must interoperate. Registration is append-only.
type Registry struct {
	mu        sync.RWMutex
	factories map[Tag]Factory
	tags      map[reflect.Type]Tag
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Tag]Factory),
		tags:      make(map[reflect.Type]Tag),
	}
}

// Register binds tag to the message variant produced by factory.
// The factory is called once to learn the variant's type.
func (r *Registry) Register(tag Tag, factory Factory) error {
	if tag.Reserved() {
		return errors.Wrapf(ErrReservedTag, "register tag %d", tag)
	}
	if factory == nil {
		return errors.Wrapf(ErrNilFactory, "register tag %d", tag)
	}

	sample := factory()
	if sample == nil {
		return errors.Wrapf(ErrNilFactory, "register tag %d: factory returned nil", tag)
	}
	typ := reflect.TypeOf(sample)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[tag]; ok {
		return errors.Wrapf(ErrTagCollision, "register %s under tag %d", typ, tag)
	}
	if prev, ok := r.tags[typ]; ok {
		return errors.Wrapf(ErrVariantRegistered, "register %s under tag %d: bound to tag %d", typ, tag, prev)
	}

	r.factories[tag] = factory
	r.tags[typ] = tag
	return nil
}

// MustRegister is like Register but panics on error. It returns r for chaining.
func (r *Registry) MustRegister(tag Tag, factory Factory) *Registry {
	if err := r.Register(tag, factory); err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the factory bound to tag.
func (r *Registry) Lookup(tag Tag) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[tag]
	return f, ok
}

// New returns a fresh message of the variant bound to tag.
func (r *Registry) New(tag Tag) (Message, bool) {
	f, ok := r.Lookup(tag)
	if !ok {
		return nil, false
	}
	return f(), true
}

// TagOf returns the tag bound to the dynamic type of m.
func (r *Registry) TagOf(m Message) (Tag, bool) {
	if m == nil {
		return 0, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	tag, ok := r.tags[reflect.TypeOf(m)]
	return tag, ok
}

// Tags returns every registered tag in ascending order.
func (r *Registry) Tags() []Tag {
	r.mu.RLock()
	tags := make([]Tag, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	r.mu.RUnlock()

	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}
