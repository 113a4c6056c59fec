package inventory

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// DefaultMaxDepth bounds container nesting when a provider is built without one.
const DefaultMaxDepth = 8

// Capability exposes extra containers owned by a subject, such as accessory
// slots provided by an extension. An absent capability returns nil.
type Capability interface {
	Name() string
	Containers(subject Subject) ([]Container, error)
}

// DirectProvider enumerates the subject's own inventory and everything
// nested inside it.
type DirectProvider struct {
	MaxDepth int
}

// NewDirectProvider creates a direct provider with the given depth bound.
func NewDirectProvider(maxDepth int) *DirectProvider {
	return &DirectProvider{MaxDepth: maxDepth}
}

// Collect implements Provider.
func (p *DirectProvider) Collect(subject Subject, visit func(Stack)) error {
	if subject == nil {
		return ErrNoSubject
	}
	w := newWalker(p.MaxDepth, visit)
	w.walk(subject.Inventory(), 0)
	return nil
}

// CompositeProvider enumerates the subject's own inventory plus the
// containers of every extension capability. All sources share one visited
// set, so a container reachable from two sources is counted once.
type CompositeProvider struct {
	MaxDepth   int
	Extensions []Capability
}

// NewCompositeProvider creates a composite provider over the given extensions.
func NewCompositeProvider(maxDepth int, extensions ...Capability) *CompositeProvider {
	return &CompositeProvider{MaxDepth: maxDepth, Extensions: extensions}
}

// Collect implements Provider. Extensions that yield nothing leave the
// result identical to a direct enumeration. A failing extension fails the
// whole read, since a partial count would look like a loss.
func (p *CompositeProvider) Collect(subject Subject, visit func(Stack)) error {
	if subject == nil {
		return ErrNoSubject
	}
	var containers []Container
	for _, ext := range p.Extensions {
		if ext == nil {
			continue
		}
		cs, err := ext.Containers(subject)
		if err != nil {
			return fmt.Errorf("extension %s: %w", ext.Name(), err)
		}
		containers = append(containers, cs...)
	}

	w := newWalker(p.MaxDepth, visit)
	w.walk(subject.Inventory(), 0)
	for _, c := range containers {
		w.walk(c, 0)
	}
	return nil
}

// walker performs one depth-first enumeration with cycle and depth guards.
type walker struct {
	maxDepth int
	visited  map[string]struct{}
	visit    func(Stack)
	clipped  bool
}

func newWalker(maxDepth int, visit func(Stack)) *walker {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &walker{
		maxDepth: maxDepth,
		visited:  make(map[string]struct{}),
		visit:    visit,
	}
}

func (w *walker) walk(c Container, depth int) {
	if c == nil {
		return
	}
	if depth > w.maxDepth {
		if !w.clipped {
			w.clipped = true
			log.Warn().Str("container", c.ID()).Int("max_depth", w.maxDepth).Msg("Container nesting too deep, skipping")
		}
		return
	}
	if _, seen := w.visited[c.ID()]; seen {
		return
	}
	w.visited[c.ID()] = struct{}{}

	for _, s := range c.Stacks() {
		if s.Count <= 0 {
			continue
		}
		w.visit(s.Clone())
	}
	for _, child := range c.Children() {
		w.walk(child, depth+1)
	}
}
