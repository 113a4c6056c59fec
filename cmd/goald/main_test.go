package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/goald/internal/goal"
	"github.com/dokzlo13/goald/internal/projects"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "database:\n  path: " + filepath.Join(dir, "goald.sqlite") + "\n" +
		"inventory:\n  file: " + filepath.Join(dir, "inventory.yaml") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_ProjectAndGoalLifecycle(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "--config", cfg, "project", "create", "Base")
	require.NoError(t, err)
	projectID := strings.TrimSpace(out)
	require.NotEmpty(t, projectID)

	out, err = execute(t, "--config", cfg, "goal", "add", projectID, "#minecraft:logs", "64")
	require.NoError(t, err)
	assert.Contains(t, out, "#minecraft:logs")

	_, err = execute(t, "--config", cfg, "goal", "add", projectID, "minecraft:enchanted_book", "1", "--match", "enchant=mending")
	require.NoError(t, err)

	out, err = execute(t, "--config", cfg, "projects")
	require.NoError(t, err)
	assert.Contains(t, out, "Base")
	assert.Contains(t, out, "enchant=mending")
	assert.Contains(t, out, "*", "active project is marked")

	out, err = execute(t, "--config", cfg, "project", "show", projectID)
	require.NoError(t, err)
	assert.Contains(t, out, "Base (revision 3)")
	assert.Contains(t, out, "#minecraft:logs")

	_, err = execute(t, "--config", cfg, "project", "show", "missing")
	assert.ErrorIs(t, err, projects.ErrProjectNotFound)

	_, err = execute(t, "--config", cfg, "goal", "add", projectID, "minecraft:stone", "zero")
	assert.ErrorIs(t, err, goal.ErrInvalidTarget)

	_, err = execute(t, "--config", cfg, "project", "secondary", projectID, "maybe")
	assert.Error(t, err)

	_, err = execute(t, "--config", cfg, "project", "delete", projectID)
	require.NoError(t, err)
	_, err = execute(t, "--config", cfg, "project", "activate", projectID)
	assert.Error(t, err)
}

func TestCLI_MissingExplicitConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "projects")
	assert.Error(t, err)
}

func TestParseFilter(t *testing.T) {
	f, err := parseFilter([]string{"enchant=mending", "level="}, []string{"damage"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"enchant": "mending", "level": ""}, f.Match)
	assert.Equal(t, []string{"damage"}, f.Ignore)

	_, err = parseFilter([]string{"novalue"}, nil)
	assert.Error(t, err)
}

func TestStrictLabel(t *testing.T) {
	g := goal.NewStrictGoal(goal.ResourceMatcher("minecraft:book"), 1, goal.AttributeFilter{
		Match:  map[string]string{"b": "2", "a": "1"},
		Ignore: []string{"damage"},
	})
	assert.Equal(t, "a=1,b=2,!damage", strictLabel(g))
	assert.Empty(t, strictLabel(goal.NewGoal(goal.ResourceMatcher("minecraft:book"), 1)))
}
