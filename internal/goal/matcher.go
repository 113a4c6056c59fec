package goal

import (
	"maps"
	"slices"
	"strings"
)

// MatchKind selects how a Matcher compares against a stack.
type MatchKind int

const (
	MatchResource MatchKind = iota
	MatchTag
)

// tagPrefix marks a tag matcher in registry-name form ("#minecraft:logs").
const tagPrefix = "#"

// Matcher identifies the resource a goal tracks: either one exact resource
// type or every resource carrying a tag.
type Matcher struct {
	Kind MatchKind
	Name string
}

// ResourceMatcher matches one exact resource type.
func ResourceMatcher(name string) Matcher {
	return Matcher{Kind: MatchResource, Name: name}
}

// TagMatcher matches every resource carrying the tag.
func TagMatcher(tag string) Matcher {
	return Matcher{Kind: MatchTag, Name: tag}
}

// ParseMatcher reads a registry name; a leading '#' selects a tag matcher.
func ParseMatcher(s string) Matcher {
	if strings.HasPrefix(s, tagPrefix) {
		return TagMatcher(strings.TrimPrefix(s, tagPrefix))
	}
	return ResourceMatcher(s)
}

// Matches reports whether a stack of the given resource and tags matches.
func (m Matcher) Matches(resource string, tags []string) bool {
	switch m.Kind {
	case MatchTag:
		return slices.Contains(tags, m.Name)
	default:
		return resource == m.Name
	}
}

// String renders the matcher in registry-name form.
func (m Matcher) String() string {
	if m.Kind == MatchTag {
		return tagPrefix + m.Name
	}
	return m.Name
}

// AttributeFilter is the attribute template of a strict goal: the expected
// attribute values and the keys that are ignored when comparing.
type AttributeFilter struct {
	Match  map[string]string
	Ignore []string
}

// Matches reports whether attrs equal the template on every key that is not
// ignored. Keys present on either side must agree.
func (f AttributeFilter) Matches(attrs map[string]string) bool {
	for k, v := range f.Match {
		if f.ignored(k) {
			continue
		}
		if got, ok := attrs[k]; !ok || got != v {
			return false
		}
	}
	for k := range attrs {
		if f.ignored(k) {
			continue
		}
		if _, ok := f.Match[k]; !ok {
			return false
		}
	}
	return true
}

// Equal compares two filters; the ignore list is order-insensitive.
func (f AttributeFilter) Equal(o AttributeFilter) bool {
	if !maps.Equal(f.Match, o.Match) {
		return false
	}
	a := normalizeKeys(f.Ignore)
	b := normalizeKeys(o.Ignore)
	return slices.Equal(a, b)
}

func (f AttributeFilter) ignored(key string) bool {
	return slices.Contains(f.Ignore, key)
}

func (f AttributeFilter) clone() AttributeFilter {
	return AttributeFilter{
		Match:  maps.Clone(f.Match),
		Ignore: slices.Clone(f.Ignore),
	}
}

func normalizeKeys(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}
