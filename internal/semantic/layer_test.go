package semantic

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRelevantModelsKeywordScoring(t *testing.T) {
	l := NewLayer(DefaultMDL())

	models := l.FindRelevantModels("how many tasks are in the current sprint")
	require.NotEmpty(t, models)
	names := modelNames(models)
	assert.Contains(t, names, "tasks")
	assert.Contains(t, names, "sprints")
	assert.NotContains(t, names, "requirements")
}

func TestRelevantModelsCapAndFloor(t *testing.T) {
	l := NewLayer(DefaultMDL())

	// Nothing relevant: no model reaches the floor.
	assert.Empty(t, l.FindRelevantModels("hello there"))

	models := l.FindRelevantModels("project sprint task backlog requirement user member velocity")
	assert.LessOrEqual(t, len(models), MaxModels)
}

func TestRelationshipTriggerExpandsSelection(t *testing.T) {
	l := NewLayer(DefaultMDL())

	models := l.FindRelevantModels("which tasks are assigned to Kim?")
	names := modelNames(models)
	assert.Contains(t, names, "tasks")
	// "assigned" trigger pulls the user join in even without a user keyword
	assert.Contains(t, names, "users")
}

func TestCalculatedFieldMention(t *testing.T) {
	l := NewLayer(DefaultMDL())
	models := l.FindRelevantModels("list is_overdue work")
	assert.Contains(t, modelNames(models), "tasks")
}

func TestMetricMentionBoostsBaseModel(t *testing.T) {
	l := NewLayer(DefaultMDL())
	models := l.FindRelevantModels("what is our velocity trend")
	assert.Contains(t, modelNames(models), "sprints")
}

func TestGenerateSchemaContext(t *testing.T) {
	l := NewLayer(DefaultMDL())

	ctx := l.GenerateSchemaContext([]string{"tasks", "users"})
	assert.Contains(t, ctx, "task.tasks")
	assert.Contains(t, ctx, "calculated:")
	assert.Contains(t, ctx, "Join hints")
	assert.Contains(t, ctx, "task.tasks.assignee_id = auth.users.id")

	// no declared relationship between projects and users: no hint section
	ctx = l.GenerateSchemaContext([]string{"projects", "users"})
	assert.NotContains(t, ctx, "Join hints")
}

func TestFindJoinPathBothDirections(t *testing.T) {
	l := NewLayer(DefaultMDL())
	assert.NotNil(t, l.FindJoinPath("tasks", "users"))
	assert.NotNil(t, l.FindJoinPath("users", "tasks"))
	assert.Nil(t, l.FindJoinPath("projects", "users"))
}

func TestParseMDLValidation(t *testing.T) {
	_, err := ParseMDL([]byte(`
models:
  - name: a
    table: x.a
relationships:
  - name: bad
    source: a
    target: missing
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target model")
}

func TestHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mdl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - name: tasks
    display_name: Tasks
    table: task.tasks
    keywords: [task]
`), 0o644))

	l, err := NewLayerFromFile(path, true)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - name: tasks
    display_name: Tasks
    table: task.tasks
    keywords: [task]
  - name: sprints
    display_name: Sprints
    table: sprint.sprints
    keywords: [sprint]
`), 0o644))

	require.Eventually(t, func() bool {
		return len(l.Models()) == 2
	}, 2*time.Second, 20*time.Millisecond)
}

func modelNames(models []Model) []string {
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	return names
}
