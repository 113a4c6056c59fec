package tracking

import (
	"maps"
	"slices"
)

// Scope is what the next cycle has to re-scan.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeGranular
	ScopeFull
)

// String returns a human-readable name for the scope.
func (s Scope) String() string {
	switch s {
	case ScopeNone:
		return "none"
	case ScopeGranular:
		return "granular"
	case ScopeFull:
		return "full"
	default:
		return "unknown"
	}
}

// InventoryMonitor decides how much of the inventory must be re-scanned.
// It is Clean, PartiallyDirty (a set of resource types) or FullyDirty; the
// dirty set is always empty while FullyDirty.
type InventoryMonitor struct {
	allDirty     bool
	dirty        map[string]struct{}
	lastRevision int64
	seenRevision bool
}

// NewInventoryMonitor creates a monitor that starts FullyDirty so the first
// cycle performs a full scan.
func NewInventoryMonitor() *InventoryMonitor {
	return &InventoryMonitor{
		allDirty: true,
		dirty:    make(map[string]struct{}),
	}
}

// MarkResourceDirty flags one resource type for re-scan. No-op while FullyDirty.
func (m *InventoryMonitor) MarkResourceDirty(resource string) {
	if m.allDirty {
		return
	}
	m.dirty[resource] = struct{}{}
}

// MarkAllDirty forces a full re-scan, for changes with an unknown blast radius.
func (m *InventoryMonitor) MarkAllDirty() {
	clear(m.dirty)
	m.allDirty = true
}

// CheckNativeRevision compares the host's change counter with the last one
// seen; any difference forces a full re-scan.
func (m *InventoryMonitor) CheckNativeRevision(revision int64) {
	if m.seenRevision && revision == m.lastRevision {
		return
	}
	m.lastRevision = revision
	m.seenRevision = true
	m.MarkAllDirty()
}

// ClearDirty returns the monitor to Clean.
func (m *InventoryMonitor) ClearDirty() {
	clear(m.dirty)
	m.allDirty = false
}

// Scope reports what the next scan has to cover.
func (m *InventoryMonitor) Scope() Scope {
	switch {
	case m.allDirty:
		return ScopeFull
	case len(m.dirty) > 0:
		return ScopeGranular
	default:
		return ScopeNone
	}
}

// DirtyResources returns the dirty resource types in sorted order.
func (m *InventoryMonitor) DirtyResources() []string {
	return slices.Sorted(maps.Keys(m.dirty))
}
