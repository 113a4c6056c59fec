package app

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/goald/internal/config"
	"github.com/dokzlo13/goald/internal/eventbus"
	"github.com/dokzlo13/goald/internal/goal"
	"github.com/dokzlo13/goald/internal/ledger"
)

type testEnv struct {
	cfg       *config.Config
	services  *Services
	inventory string
}

func newTestEnv(t *testing.T, inventoryYAML string) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "goald.sqlite")
	cfg.Inventory.File = filepath.Join(dir, "inventory.yaml")
	cfg.Persistence.Debounce = config.Duration(time.Hour)
	require.NoError(t, os.WriteFile(cfg.Inventory.File, []byte(inventoryYAML), 0o644))

	s, err := NewServices(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return &testEnv{cfg: cfg, services: s, inventory: cfg.Inventory.File}
}

func (e *testEnv) setInventory(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(e.inventory, []byte(content), 0o644))
	require.NoError(t, e.services.Inventory.Reload())
}

func logs(n int) string {
	return "containers:\n  - id: player\n    stacks:\n      - resource: minecraft:oak_log\n        count: " +
		strconv.Itoa(n) + "\n"
}

func TestServices_CompletionReachesLedger(t *testing.T) {
	env := newTestEnv(t, logs(0))
	s := env.services

	p, err := s.Projects.Create("Base")
	require.NoError(t, err)
	p, err = s.Projects.AddGoal(p.ID, goal.NewGoal(goal.ResourceMatcher("minecraft:oak_log"), 20))
	require.NoError(t, err)

	s.Tracker.Tick()
	env.setInventory(t, logs(25))
	s.Tracker.Tick()

	status, ok := s.Engine.Snapshot().Goal(p.Goals[0].ID)
	require.True(t, ok)
	assert.Equal(t, 25, status.Count)
	assert.Equal(t, 1.0, status.Progress)

	entries, err := s.Ledger.ByProject(p.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EventGoalCompleted, entries[0].EventType)
	assert.Equal(t, p.Goals[0].ID, entries[0].GoalID)
}

func TestServices_ProjectsSurviveRestart(t *testing.T) {
	env := newTestEnv(t, "")
	s := env.services

	p, err := s.Projects.Create("Base")
	require.NoError(t, err)
	_, err = s.Projects.AddGoal(p.ID, goal.NewGoal(goal.TagMatcher("minecraft:logs"), 64))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewServices(env.cfg)
	require.NoError(t, err)
	defer reopened.Close()

	active := reopened.Projects.Active()
	require.NotNil(t, active)
	assert.Equal(t, p.ID, active.ID)
	require.Len(t, active.Goals, 1)
	assert.Equal(t, "#minecraft:logs", active.Goals[0].Matcher.String())
}

func TestServices_SaveFailureIsRecorded(t *testing.T) {
	env := newTestEnv(t, "")
	s := env.services

	s.Bus.Publish(eventbus.Event{Type: eventbus.EventTypeSaveFailed, Payload: assert.AnError})

	entries, err := s.Ledger.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EventSaveFailed, entries[0].EventType)
	assert.Equal(t, assert.AnError.Error(), entries[0].Payload["error"])
}

func TestServices_ScriptExtension(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "goald.sqlite")
	cfg.Inventory.File = filepath.Join(dir, "inventory.yaml")
	cfg.Inventory.Script = filepath.Join(dir, "slots.lua")
	require.NoError(t, os.WriteFile(cfg.Inventory.Script, []byte(`
function inventory(subject)
  return { { id = "belt", stacks = { { resource = "minecraft:torch", count = 5 } } } }
end
`), 0o644))

	s, err := NewServices(cfg)
	require.NoError(t, err)
	defer s.Close()

	p, err := s.Projects.Create("Lights")
	require.NoError(t, err)
	p, err = s.Projects.AddGoal(p.ID, goal.NewGoal(goal.ResourceMatcher("minecraft:torch"), 10))
	require.NoError(t, err)

	s.Tracker.Tick()

	status, ok := s.Engine.Snapshot().Goal(p.Goals[0].ID)
	require.True(t, ok)
	assert.Equal(t, 5, status.Count)
	assert.Equal(t, 0.5, status.Progress)
}

func TestServices_BadScriptFailsStartup(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "goald.sqlite")
	cfg.Inventory.File = filepath.Join(dir, "inventory.yaml")
	cfg.Inventory.Script = filepath.Join(dir, "broken.lua")
	require.NoError(t, os.WriteFile(cfg.Inventory.Script, []byte(`x = `), 0o644))

	_, err := NewServices(cfg)
	assert.Error(t, err)
}

func TestTrackerService_RunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, logs(1))
	s := env.services

	ctx, cancel := context.WithCancel(context.Background())
	tracker := NewTrackerService(s.Engine, s.Inventory, s.Projects, time.Millisecond)
	tracker.Start(ctx)

	require.Eventually(t, func() bool { return s.Engine.Snapshot().Tick > 2 }, time.Second, time.Millisecond)
	cancel()
	tracker.Wait()
}

func TestAdmin_EditsPersist(t *testing.T) {
	env := newTestEnv(t, "")
	require.NoError(t, env.services.Close())

	admin, err := OpenAdmin(context.Background(), env.cfg)
	require.NoError(t, err)
	p, err := admin.Projects.Create("Offline")
	require.NoError(t, err)
	require.NoError(t, admin.Close())

	admin, err = OpenAdmin(context.Background(), env.cfg)
	require.NoError(t, err)
	defer admin.Close()

	got, err := admin.Projects.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Offline", got.Name)
}
