package inventory

import "slices"

// StaticContainer is a plain in-memory container. Hosts that already hold a
// snapshot of their inventory use it directly; tests use it as a fixture.
type StaticContainer struct {
	Name   string
	Items  []Stack
	Nested []Container
}

// ID implements Container.
func (c *StaticContainer) ID() string { return c.Name }

// Stacks implements Container.
func (c *StaticContainer) Stacks() []Stack { return c.Items }

// Children implements Container.
func (c *StaticContainer) Children() []Container { return c.Nested }

// StaticSubject is a Subject over a fixed root container.
type StaticSubject struct {
	Root      Container
	Rev       int64
	Secondary int64
	Tags      map[string][]string
}

// Revision implements Subject.
func (s *StaticSubject) Revision() int64 { return s.Rev }

// Inventory implements Subject.
func (s *StaticSubject) Inventory() Container { return s.Root }

// SecondaryCounter implements Subject.
func (s *StaticSubject) SecondaryCounter() int64 { return s.Secondary }

// TagsOf implements TagResolver.
func (s *StaticSubject) TagsOf(resource string) []string {
	return slices.Clone(s.Tags[resource])
}
