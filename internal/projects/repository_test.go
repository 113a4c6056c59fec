package projects

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/goald/internal/db"
	"github.com/dokzlo13/goald/internal/goal"
	"github.com/dokzlo13/goald/internal/storage"
	"github.com/dokzlo13/goald/internal/storage/kv"
)

func openRepo(t *testing.T) (*SQLiteRepository, *storage.Store) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "projects.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	store := storage.NewStore(d.DB)
	return NewSQLiteRepository(store), store
}

func putRaw(t *testing.T, store *storage.Store, id, payload string) {
	t.Helper()
	require.NoError(t, store.Write(context.Background(), projectKind, []storage.Record{{ID: id, Payload: []byte(payload)}}, nil))
}

func sampleProject() goal.Project {
	p := goal.NewProject("Beacon")
	p.TrackSecondaryRate = true
	p = goal.AddGoal(p, goal.NewGoal(goal.ResourceMatcher("minecraft:iron_block"), 164))
	p = goal.AddGoal(p, goal.NewGoal(goal.TagMatcher("minecraft:logs"), 64))
	p = goal.AddGoal(p, goal.NewStrictGoal(goal.ResourceMatcher("minecraft:enchanted_book"), 2, goal.AttributeFilter{
		Match:  map[string]string{"enchant": "mending"},
		Ignore: []string{"repair_cost"},
	}))
	return p
}

func TestSQLiteRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := openRepo(t)
	p := sampleProject()

	require.NoError(t, repo.SaveAll(ctx, []goal.Project{p}, nil))
	loaded, err := repo.LoadAll(ctx)
	require.NoError(t, err)

	require.Len(t, loaded, 1)
	assert.Equal(t, p, loaded[0])
}

func TestSQLiteRepository_SaveAllKeepsOrderAndRemoves(t *testing.T) {
	ctx := context.Background()
	repo, _ := openRepo(t)
	a, b, c := goal.NewProject("a"), goal.NewProject("b"), goal.NewProject("c")
	require.NoError(t, repo.SaveAll(ctx, []goal.Project{a, b, c}, nil))

	b.Name = "renamed"
	require.NoError(t, repo.SaveAll(ctx, []goal.Project{a, b}, []string{c.ID}))

	loaded, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, a.ID, loaded[0].ID)
	assert.Equal(t, "renamed", loaded[1].Name)
}

func TestSQLiteRepository_SkipsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	repo, store := openRepo(t)
	good := sampleProject()
	require.NoError(t, repo.SaveAll(ctx, []goal.Project{good}, nil))
	putRaw(t, store, "broken", `{"name": 12`)
	putRaw(t, store, "anonymous", `{"name": "no id", "goals": []}`)

	loaded, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, good.ID, loaded[0].ID)
}

func TestSQLiteRepository_SaveAllKeepsSkippedRecords(t *testing.T) {
	ctx := context.Background()
	repo, store := openRepo(t)
	good := sampleProject()
	require.NoError(t, repo.SaveAll(ctx, []goal.Project{good}, nil))
	putRaw(t, store, "broken", `{"name": 12`)

	svc, err := NewService(ctx, repo, kv.NewMemoryBucket("settings"), nil, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	require.Len(t, svc.List(), 1)

	_, err = svc.Create("other")
	require.NoError(t, err)
	require.NoError(t, svc.Flush())

	payload, _, err := store.Get(ctx, projectKind, "broken")
	require.NoError(t, err)
	assert.Equal(t, `{"name": 12`, string(payload))

	loaded, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestSQLiteRepository_ServiceDeletePersists(t *testing.T) {
	ctx := context.Background()
	repo, _ := openRepo(t)
	svc, err := NewService(ctx, repo, kv.NewMemoryBucket("settings"), nil, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	a, err := svc.Create("a")
	require.NoError(t, err)
	b, err := svc.Create("b")
	require.NoError(t, err)
	require.NoError(t, svc.Flush())

	require.NoError(t, svc.Delete(a.ID))
	require.NoError(t, svc.Flush())

	loaded, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, b.ID, loaded[0].ID)
}

func TestSQLiteRepository_Load(t *testing.T) {
	ctx := context.Background()
	repo, store := openRepo(t)
	p := sampleProject()
	require.NoError(t, repo.SaveAll(ctx, []goal.Project{p}, nil))
	p.Name = "Conduit"
	require.NoError(t, repo.SaveAll(ctx, []goal.Project{p}, nil))

	loaded, version, err := repo.Load(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, loaded)
	assert.Equal(t, int64(2), version)

	_, _, err = repo.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	putRaw(t, store, "broken", `{"name": 12`)
	_, _, err = repo.Load(ctx, "broken")
	assert.Error(t, err)
}

func TestSQLiteRepository_LegacyRecordWithoutGoalIDs(t *testing.T) {
	ctx := context.Background()
	repo, store := openRepo(t)
	putRaw(t, store, "p1", `{
		"name": "Legacy",
		"id": "p1",
		"goals": [
			{"resource": "minecraft:stone", "target_amount": 128},
			{"resource": "#minecraft:wool", "target_amount": 16, "strict": true, "attributes": {"ignore": ["color"]}},
			{"resource": "minecraft:dirt", "target_amount": 0}
		]
	}`)

	loaded, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	p := loaded[0]
	assert.False(t, p.TrackSecondaryRate)
	require.Len(t, p.Goals, 2, "zero target dropped")

	assert.NotEmpty(t, p.Goals[0].ID)
	assert.Equal(t, goal.ResourceMatcher("minecraft:stone"), p.Goals[0].Matcher)
	assert.False(t, p.Goals[0].Strict)

	assert.Equal(t, goal.TagMatcher("minecraft:wool"), p.Goals[1].Matcher)
	assert.True(t, p.Goals[1].Strict)
	assert.Equal(t, []string{"color"}, p.Goals[1].Filter.Ignore)
}
