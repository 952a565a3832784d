package msgnet

import (
	"errors"
	"reflect"
	"testing"
)

// pingMessage is a second variant used to exercise the registry.
type pingMessage struct {
	seq uint32
}

func (m *pingMessage) MarshalBinary() ([]byte, error) {
	return appendInt32(nil, int32(m.seq)), nil
}

func (m *pingMessage) UnmarshalBinary(data []byte) error {
	if len(data) != 4 {
		return ErrMalformedMessage
	}
	m.seq = uint32(readInt32(data))
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	r := NewRegistry()
	if err := r.Register(1337, func() Message { return new(StringMessage) }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return r
}

func TestRegistry_RoundTrip(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(1337, func() Message { return new(StringMessage) }).
		MustRegister(7, func() Message { return new(pingMessage) })

	for _, m := range []Message{new(StringMessage), new(pingMessage)} {
		tag, ok := r.TagOf(m)
		if !ok {
			t.Fatalf("TagOf(%T) not found", m)
		}
		got, ok := r.New(tag)
		if !ok {
			t.Fatalf("New(%d) not found", tag)
		}
		if reflect.TypeOf(got) != reflect.TypeOf(m) {
			t.Errorf("New(TagOf(%T)) = %T", m, got)
		}
	}

	for _, tag := range []Tag{7, 1337} {
		m, ok := r.New(tag)
		if !ok {
			t.Fatalf("New(%d) not found", tag)
		}
		if back, _ := r.TagOf(m); back != tag {
			t.Errorf("TagOf(New(%d)) = %d", tag, back)
		}
	}
}

func TestRegistry_ReservedTags(t *testing.T) {
	r := NewRegistry()

	for _, tag := range []Tag{TagEndOfStream, TagTerminate} {
		err := r.Register(tag, func() Message { return new(StringMessage) })
		if !errors.Is(err, ErrReservedTag) {
			t.Errorf("Register(%d) error = %v, want ErrReservedTag", tag, err)
		}
	}

	if len(r.Tags()) != 0 {
		t.Errorf("Tags() = %v, want empty", r.Tags())
	}
}

func TestRegistry_NilFactory(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(1, nil); !errors.Is(err, ErrNilFactory) {
		t.Errorf("Register(nil) error = %v, want ErrNilFactory", err)
	}
	if err := r.Register(1, func() Message { return nil }); !errors.Is(err, ErrNilFactory) {
		t.Errorf("Register(nil message) error = %v, want ErrNilFactory", err)
	}
}

func TestRegistry_TagCollision(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Register(1337, func() Message { return new(pingMessage) })
	if !errors.Is(err, ErrTagCollision) {
		t.Errorf("error = %v, want ErrTagCollision", err)
	}

	// The first binding is untouched.
	m, _ := r.New(1337)
	if _, ok := m.(*StringMessage); !ok {
		t.Errorf("New(1337) = %T, want *StringMessage", m)
	}
}

func TestRegistry_VariantRegisteredTwice(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Register(42, func() Message { return new(StringMessage) })
	if !errors.Is(err, ErrVariantRegistered) {
		t.Errorf("error = %v, want ErrVariantRegistered", err)
	}
	if _, ok := r.Lookup(42); ok {
		t.Error("tag 42 should not be bound")
	}
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustRegister with reserved tag did not panic")
		}
	}()
	NewRegistry().MustRegister(TagTerminate, func() Message { return new(StringMessage) })
}

func TestRegistry_Unknown(t *testing.T) {
	r := newTestRegistry(t)

	if _, ok := r.New(99); ok {
		t.Error("New(99) should not be found")
	}
	if _, ok := r.TagOf(new(pingMessage)); ok {
		t.Error("TagOf(pingMessage) should not be found")
	}
	if _, ok := r.TagOf(nil); ok {
		t.Error("TagOf(nil) should not be found")
	}
}

func TestRegistry_Tags(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(1337, func() Message { return new(StringMessage) })
	r.MustRegister(-5, func() Message { return new(pingMessage) })

	got := r.Tags()
	want := []Tag{-5, 1337}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tags() = %v, want %v", got, want)
	}
}
