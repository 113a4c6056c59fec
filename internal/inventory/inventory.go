// Package inventory enumerates the resource stacks owned by a subject,
// including nested and equipped containers.
package inventory

import (
	"errors"
	"maps"
	"slices"
)

// ErrNoSubject is returned when Collect is called without a subject.
var ErrNoSubject = errors.New("inventory: no subject")

// Stack is one owned item instance: a resource type, its tags, a quantity
// and free-form attributes.
type Stack struct {
	Resource   string
	Tags       []string
	Count      int
	Attributes map[string]string
}

// Clone returns a deep copy so callers never alias the subject's live state.
func (s Stack) Clone() Stack {
	s.Tags = slices.Clone(s.Tags)
	s.Attributes = maps.Clone(s.Attributes)
	return s
}

// Container is a capability that holds stacks and possibly other containers
// (backpacks, shulker boxes, equipment slots).
type Container interface {
	// ID identifies the container instance; it guards against cycles.
	ID() string
	Stacks() []Stack
	Children() []Container
}

// Subject is whatever owns the inventory being tracked.
type Subject interface {
	// Revision is the host's native change counter; any change means
	// something in the inventory may have moved.
	Revision() int64
	// Inventory returns the root container, or nil when absent.
	Inventory() Container
	// SecondaryCounter is a project-level progress counter (e.g. experience).
	SecondaryCounter() int64
}

// TagResolver is optionally implemented by subjects that can list the tags
// of a resource type without enumerating stacks.
type TagResolver interface {
	TagsOf(resource string) []string
}

// Provider enumerates every stack owned by a subject, calling visit with a
// copy of each one.
type Provider interface {
	Collect(subject Subject, visit func(Stack)) error
}
