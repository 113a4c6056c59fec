package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/goald/internal/inventory"
)

const accessories = `
local log = require("log")

function inventory(subject)
  log.debug("listing accessories", { revision = subject.revision })
  return {
    {
      id = "belt",
      stacks = {
        { resource = "minecraft:torch", count = 16, tags = { "minecraft:lights" } },
        { resource = "minecraft:totem_of_undying" },
      },
      children = {
        { stacks = { { resource = "minecraft:torch", count = subject.secondary } } },
      },
    },
    {
      id = "ring",
      stacks = { { resource = "minecraft:book", count = 2, attributes = { enchant = "mending" } } },
    },
  }
end
`

func TestExtension_Containers(t *testing.T) {
	ext, err := LoadString("accessories", accessories)
	require.NoError(t, err)
	defer ext.Close()

	containers, err := ext.Containers(&inventory.StaticSubject{Rev: 3, Secondary: 4})
	require.NoError(t, err)
	require.Len(t, containers, 2)

	belt := containers[0]
	assert.Equal(t, "belt", belt.ID())
	require.Len(t, belt.Stacks(), 2)
	assert.Equal(t, inventory.Stack{Resource: "minecraft:torch", Count: 16, Tags: []string{"minecraft:lights"}}, belt.Stacks()[0])
	assert.Equal(t, 1, belt.Stacks()[1].Count, "count defaults to one")
	require.Len(t, belt.Children(), 1)
	assert.Equal(t, "belt/1", belt.Children()[0].ID())
	assert.Equal(t, 4, belt.Children()[0].Stacks()[0].Count)

	assert.Equal(t, map[string]string{"enchant": "mending"}, containers[1].Stacks()[0].Attributes)
}

func TestExtension_ComposesUnderCompositeProvider(t *testing.T) {
	ext, err := LoadString("accessories", accessories)
	require.NoError(t, err)
	defer ext.Close()

	root := &inventory.StaticContainer{Name: "player", Items: []inventory.Stack{{Resource: "minecraft:torch", Count: 1}}}
	counts := make(map[string]int)
	err = inventory.NewCompositeProvider(4, ext).Collect(&inventory.StaticSubject{Root: root, Secondary: 10}, func(s inventory.Stack) {
		counts[s.Resource] += s.Count
	})
	require.NoError(t, err)

	assert.Equal(t, 27, counts["minecraft:torch"])
	assert.Equal(t, 1, counts["minecraft:totem_of_undying"])
}

func TestExtension_Errors(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"runtime error", `function inventory() error("boom") end`},
		{"wrong return type", `function inventory() return 42 end`},
		{"stack without resource", `function inventory() return { { stacks = { { count = 1 } } } } end`},
		{"endless loop", `function inventory() while true do end end`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := LoadString(tt.name, tt.source)
			require.NoError(t, err)
			defer ext.Close()

			_, err = ext.Containers(&inventory.StaticSubject{})
			assert.Error(t, err)
		})
	}
}

func TestExtension_NilMeansNothing(t *testing.T) {
	ext, err := LoadString("empty", `function inventory() return nil end`)
	require.NoError(t, err)
	defer ext.Close()

	containers, err := ext.Containers(&inventory.StaticSubject{})
	require.NoError(t, err)
	assert.Empty(t, containers)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "slots.lua")
	require.NoError(t, os.WriteFile(good, []byte(`function inventory() return {} end`), 0o644))
	missing := filepath.Join(dir, "nofunc.lua")
	require.NoError(t, os.WriteFile(missing, []byte(`x = 1`), 0o644))

	ext, err := Load(good)
	require.NoError(t, err)
	ext.Close()

	_, err = Load(missing)
	assert.ErrorIs(t, err, ErrNoInventoryFunc)

	_, err = Load(filepath.Join(dir, "absent.lua"))
	assert.Error(t, err)
}
