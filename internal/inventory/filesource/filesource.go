// Package filesource serves an inventory from a YAML snapshot file. Every
// reload of the file bumps the subject's revision, which the tracker treats
// as "anything may have changed".
package filesource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/goald/internal/debounce"
	"github.com/dokzlo13/goald/internal/inventory"
)

// DefaultSettle is how long the file must stay quiet before a reload.
const DefaultSettle = 100 * time.Millisecond

type stackDoc struct {
	Resource   string            `yaml:"resource"`
	Count      int               `yaml:"count"`
	Tags       []string          `yaml:"tags"`
	Attributes map[string]string `yaml:"attributes"`
}

type containerDoc struct {
	ID       string         `yaml:"id"`
	Stacks   []stackDoc     `yaml:"stacks"`
	Children []containerDoc `yaml:"children"`
}

type document struct {
	Secondary  int64               `yaml:"secondary"`
	Tags       map[string][]string `yaml:"tags"`
	Containers []containerDoc      `yaml:"containers"`
}

// Source holds the last successfully parsed snapshot of an inventory file.
type Source struct {
	path   string
	settle time.Duration

	mu       sync.RWMutex
	subject  *inventory.StaticSubject
	revision int64

	onChange func()
}

// Option configures a Source.
type Option func(*Source)

// WithSettle sets the quiet period applied to bursts of file events.
func WithSettle(d time.Duration) Option {
	return func(s *Source) { s.settle = d }
}

// WithOnChange sets a callback invoked after every successful reload.
func WithOnChange(fn func()) Option {
	return func(s *Source) { s.onChange = fn }
}

// Open reads the file once. A missing file is an empty inventory.
func Open(path string, opts ...Option) (*Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	s := &Source{
		path:    abs,
		settle:  DefaultSettle,
		subject: &inventory.StaticSubject{Root: &inventory.StaticContainer{Name: "root"}},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Subject returns the current snapshot. The value is never mutated after it
// is published, so it may be read from any goroutine.
func (s *Source) Subject() inventory.Subject {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subject
}

// Reload re-reads the file and publishes a new snapshot with the next
// revision. On a parse error the previous snapshot stays in place.
func (s *Source) Reload() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		data = nil
	} else if err != nil {
		return fmt.Errorf("failed to read inventory: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse inventory %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.revision++
	s.subject = build(doc, s.revision)
	s.mu.Unlock()

	log.Debug().Str("path", s.path).Int64("revision", s.revision).Msg("Inventory reloaded")
	if s.onChange != nil {
		s.onChange()
	}
	return nil
}

// Watch reloads the file whenever it changes, until ctx is done. The
// directory is watched so editors that replace the file are seen.
func (s *Source) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}

	d := debounce.New()
	defer d.Shutdown()

	target := filepath.Base(s.path)
	reload := func() {
		if err := s.Reload(); err != nil {
			log.Warn().Err(err).Msg("Inventory reload failed, keeping previous snapshot")
		}
	}

	log.Info().Str("path", s.path).Msg("Watching inventory file")
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				d.Schedule(reload, s.settle)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Inventory watcher error")
		}
	}
}

func build(doc document, revision int64) *inventory.StaticSubject {
	tags := make(map[string][]string, len(doc.Tags))
	for resource, t := range doc.Tags {
		tags[resource] = slices.Clone(t)
	}

	root := &inventory.StaticContainer{Name: "root"}
	for i, c := range doc.Containers {
		root.Nested = append(root.Nested, buildContainer(c, fmt.Sprintf("root/%d", i), tags))
	}
	for resource, t := range tags {
		slices.Sort(t)
		tags[resource] = slices.Compact(t)
	}

	return &inventory.StaticSubject{
		Root:      root,
		Rev:       revision,
		Secondary: doc.Secondary,
		Tags:      tags,
	}
}

// buildContainer converts one container document; containers without an id
// are named by their position. Stack tags are also folded into the resource
// tag table so granular scans can route them.
func buildContainer(c containerDoc, path string, tags map[string][]string) *inventory.StaticContainer {
	id := c.ID
	if id == "" {
		id = path
	}
	out := &inventory.StaticContainer{Name: id}
	for _, st := range c.Stacks {
		out.Items = append(out.Items, inventory.Stack{
			Resource:   st.Resource,
			Tags:       st.Tags,
			Count:      st.Count,
			Attributes: st.Attributes,
		})
		tags[st.Resource] = append(tags[st.Resource], st.Tags...)
	}
	for i, child := range c.Children {
		out.Nested = append(out.Nested, buildContainer(child, fmt.Sprintf("%s/%d", path, i), tags))
	}
	return out
}
