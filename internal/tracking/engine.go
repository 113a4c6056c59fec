// Package tracking measures how fast goal resources accumulate. The Engine
// is driven by one OnTick call per host tick and owns the tracker registry
// and the inventory monitor.
package tracking

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/goald/internal/eventbus"
	"github.com/dokzlo13/goald/internal/goal"
	"github.com/dokzlo13/goald/internal/inventory"
)

// DefaultRateRefreshTicks is how many ticks pass between rate refreshes.
const DefaultRateRefreshTicks = 20

// Publisher receives completion events.
type Publisher interface {
	Publish(eventbus.Event)
}

// Completion is the payload of an EventTypeGoalCompleted event.
type Completion struct {
	ProjectID string
	GoalID    string
	Count     int
	Target    int
	At        time.Time
}

// Config tunes the engine.
type Config struct {
	RateWindow       time.Duration
	RateRefreshTicks int

	// FullScanRPS bounds full scans per second; zero means unlimited.
	FullScanRPS   float64
	FullScanBurst int
	Now           func() time.Time
}

// Engine is the per-tick orchestrator. OnTick must only be called from one
// goroutine; Mark*, Reset and Snapshot are safe from any goroutine.
type Engine struct {
	provider inventory.Provider
	bus      Publisher

	window       time.Duration
	refreshTicks uint64
	now          func() time.Time
	limiter      *rate.Limiter

	// owned by the tick goroutine
	monitor       *InventoryMonitor
	state         *TrackerState
	projectID     string
	ticks         uint64
	lastScope     Scope
	secondary     *RateCalculator
	secondaryLast int64
	secondarySeen bool
	secondaryRate float64

	// marks from other goroutines, drained at the start of each tick
	inboxMu   sync.Mutex
	inboxAll  bool
	inboxRes  map[string]struct{}
	inboxWipe bool

	snapshot atomic.Pointer[Snapshot]
}

// NewEngine creates an engine reading inventory through provider and
// publishing completions to bus.
func NewEngine(provider inventory.Provider, bus Publisher, cfg Config) *Engine {
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = DefaultRateWindow
	}
	if cfg.RateRefreshTicks <= 0 {
		cfg.RateRefreshTicks = DefaultRateRefreshTicks
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	limit := rate.Inf
	if cfg.FullScanRPS > 0 {
		limit = rate.Limit(cfg.FullScanRPS)
	}
	burst := cfg.FullScanBurst
	if burst <= 0 {
		burst = 1
	}

	e := &Engine{
		provider:     provider,
		bus:          bus,
		window:       cfg.RateWindow,
		refreshTicks: uint64(cfg.RateRefreshTicks),
		now:          cfg.Now,
		limiter:      rate.NewLimiter(limit, burst),
		monitor:      NewInventoryMonitor(),
		state:        NewTrackerState(cfg.RateWindow, cfg.Now),
		secondary:    NewRateCalculator(cfg.RateWindow, cfg.Now),
		inboxRes:     make(map[string]struct{}),
	}
	e.snapshot.Store(&Snapshot{})
	return e
}

// MarkResourceDirty queues a granular re-scan of one resource type.
func (e *Engine) MarkResourceDirty(resource string) {
	e.inboxMu.Lock()
	e.inboxRes[resource] = struct{}{}
	e.inboxMu.Unlock()
}

// MarkAllDirty queues a full re-scan.
func (e *Engine) MarkAllDirty() {
	e.inboxMu.Lock()
	e.inboxAll = true
	e.inboxMu.Unlock()
}

// Reset starts a new session on the next tick: rate windows are cleared
// and the inventory is fully re-scanned.
func (e *Engine) Reset() {
	e.inboxMu.Lock()
	e.inboxWipe = true
	e.inboxAll = true
	e.inboxMu.Unlock()
}

// Snapshot returns the state published by the last tick.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Tracker returns the live tracker of a goal. Tick goroutine only.
func (e *Engine) Tracker(goalID string) (*GoalTracker, bool) {
	return e.state.Get(goalID)
}

// OnTick runs one cycle against the active project. A nil project means
// nothing is being tracked.
func (e *Engine) OnTick(subject inventory.Subject, project *goal.Project) {
	e.drainInbox()
	e.ticks++

	if project == nil {
		if e.projectID != "" || e.state.Len() > 0 {
			log.Info().Str("project", e.projectID).Msg("No active project, dropping trackers")
			e.switchProject("")
		}
		e.publishSnapshot()
		return
	}

	if project.ID != e.projectID {
		log.Info().Str("project", project.ID).Str("name", project.Name).Msg("Tracking project")
		e.switchProject(project.ID)
	}

	if res := e.state.Sync(project.Goals); res.NeedsScan() {
		log.Debug().
			Int("added", res.Added).
			Int("removed", res.Removed).
			Int("rematched", res.Rematched).
			Msg("Tracker set changed")
		e.monitor.MarkAllDirty()
	}

	e.lastScope = ScopeNone
	if subject != nil {
		e.monitor.CheckNativeRevision(subject.Revision())
		e.scan(subject)
		if project.TrackSecondaryRate {
			e.trackSecondary(subject.SecondaryCounter())
		}
	}
	if !project.TrackSecondaryRate && e.secondarySeen {
		e.secondary.Clear()
		e.secondarySeen = false
		e.secondaryRate = 0
	}

	if e.ticks%e.refreshTicks == 0 {
		e.refreshRates(project.TrackSecondaryRate)
	}

	e.publishSnapshot()
}

func (e *Engine) drainInbox() {
	e.inboxMu.Lock()
	all, wipe := e.inboxAll, e.inboxWipe
	resources := e.inboxRes
	e.inboxAll, e.inboxWipe = false, false
	if len(resources) > 0 {
		e.inboxRes = make(map[string]struct{})
	}
	e.inboxMu.Unlock()

	if wipe {
		for _, t := range e.state.All() {
			t.resetRate()
		}
		e.secondary.Clear()
		e.secondarySeen = false
		e.secondaryRate = 0
		log.Info().Msg("Session reset")
	}
	for r := range resources {
		e.monitor.MarkResourceDirty(r)
	}
	if all {
		e.monitor.MarkAllDirty()
	}
}

func (e *Engine) switchProject(id string) {
	e.projectID = id
	e.state.Reset()
	e.secondary.Clear()
	e.secondarySeen = false
	e.secondaryRate = 0
	e.monitor.MarkAllDirty()
}

// scan performs whatever the monitor asks for and commits the counts.
// A failed read leaves the monitor dirty so the next tick retries.
func (e *Engine) scan(subject inventory.Subject) {
	scope := e.monitor.Scope()
	switch scope {
	case ScopeNone:
		return
	case ScopeFull:
		if !e.limiter.AllowN(e.now(), 1) {
			log.Debug().Msg("Full scan budget exhausted, deferring")
			return
		}
	}

	var (
		affected []*GoalTracker
		dirty    map[string]struct{}
	)
	if scope == ScopeFull {
		affected = e.state.All()
	} else {
		resources := e.monitor.DirtyResources()
		affected = e.affectedBy(subject, resources)
		dirty = make(map[string]struct{}, len(resources))
		for _, r := range resources {
			dirty[r] = struct{}{}
		}
	}
	if len(affected) == 0 && (dirty == nil || len(e.state.TagTrackers()) == 0) {
		e.monitor.ClearDirty()
		e.lastScope = scope
		return
	}

	counts, touched, err := e.collect(subject, affected, dirty)
	if err != nil {
		log.Warn().Err(err).Str("scope", scope.String()).Msg("Inventory read failed, will retry")
		return
	}
	if len(touched) > 0 {
		affected = e.merge(affected, touched)
	}

	for _, t := range affected {
		observed := counts[t]
		if t.Update(observed) {
			e.complete(t)
		}
	}
	e.monitor.ClearDirty()
	e.lastScope = scope

	log.Debug().
		Str("scope", scope.String()).
		Int("trackers", len(affected)).
		Msg("Inventory scanned")
}

// affectedBy returns the trackers that count any of the dirty resource
// types. Without a tag resolver every tag tracker is included.
func (e *Engine) affectedBy(subject inventory.Subject, resources []string) []*GoalTracker {
	resolver, _ := subject.(inventory.TagResolver)
	set := make(map[*GoalTracker]struct{})
	for _, r := range resources {
		for _, t := range e.state.ByResource(r) {
			set[t] = struct{}{}
		}
		if resolver == nil {
			continue
		}
		for _, tag := range resolver.TagsOf(r) {
			for _, t := range e.state.ByTag(tag) {
				set[t] = struct{}{}
			}
		}
	}
	if resolver == nil {
		for _, t := range e.state.TagTrackers() {
			set[t] = struct{}{}
		}
	}

	out := make([]*GoalTracker, 0, len(set))
	for _, t := range e.state.All() {
		if _, ok := set[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// collect enumerates the inventory once and sums, per tracker, the stacks
// it matches. A stack may count toward several trackers. On a granular scan
// (dirty != nil) tag trackers are always summed, and the ones matching a
// stack of a dirty resource are returned as touched: the subject's tag
// table may not know the tags that extension stacks carry.
func (e *Engine) collect(subject inventory.Subject, affected []*GoalTracker, dirty map[string]struct{}) (counts map[*GoalTracker]int, touched map[*GoalTracker]struct{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inventory provider panicked: %v", r)
		}
	}()

	var member map[*GoalTracker]struct{}
	if dirty != nil {
		member = make(map[*GoalTracker]struct{}, len(affected))
		for _, t := range affected {
			member[t] = struct{}{}
		}
		touched = make(map[*GoalTracker]struct{})
	}

	counts = make(map[*GoalTracker]int, len(affected))
	err = e.provider.Collect(subject, func(s inventory.Stack) {
		_, dirtyStack := dirty[s.Resource]
		for _, t := range e.state.candidates(s.Resource, s.Tags) {
			tag := t.goal.Matcher.Kind == goal.MatchTag
			if member != nil && !tag {
				if _, ok := member[t]; !ok {
					continue
				}
			}
			if !t.Matches(s.Resource, s.Tags, s.Attributes) {
				continue
			}
			counts[t] += s.Count
			if tag && dirtyStack {
				touched[t] = struct{}{}
			}
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return counts, touched, nil
}

// merge adds the touched trackers to affected, keeping registry order.
func (e *Engine) merge(affected []*GoalTracker, touched map[*GoalTracker]struct{}) []*GoalTracker {
	set := make(map[*GoalTracker]struct{}, len(affected)+len(touched))
	for _, t := range affected {
		set[t] = struct{}{}
	}
	for t := range touched {
		set[t] = struct{}{}
	}
	out := make([]*GoalTracker, 0, len(set))
	for _, t := range e.state.All() {
		if _, ok := set[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (e *Engine) complete(t *GoalTracker) {
	g := t.Goal()
	c := Completion{
		ProjectID: e.projectID,
		GoalID:    g.ID,
		Count:     t.CurrentCount(),
		Target:    g.Target,
		At:        e.now(),
	}
	log.Info().
		Str("project", c.ProjectID).
		Str("goal", c.GoalID).
		Str("resource", g.Matcher.String()).
		Int("count", c.Count).
		Int("target", c.Target).
		Msg("Goal completed")
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.EventTypeGoalCompleted, Payload: c})
	}
}

func (e *Engine) trackSecondary(value int64) {
	if !e.secondarySeen {
		e.secondaryLast = value
		e.secondarySeen = true
		return
	}
	if delta := value - e.secondaryLast; delta > 0 {
		e.secondary.AddGain(delta)
	}
	e.secondaryLast = value
}

func (e *Engine) refreshRates(secondary bool) {
	for _, t := range e.state.All() {
		t.UpdateRate()
	}
	if secondary {
		e.secondaryRate = e.secondary.RatePerHour()
	}
}
