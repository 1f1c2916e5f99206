package fewshot

import (
	"context"

	"github.com/DanielHyeon/pms-ic-sub000/internal/query"
)

// seed loads the shipped exemplars. Seeds are always present after
// initialisation and are verified by construction.
func (s *Store) seed() {
	ctx := context.Background()

	type seedExample struct {
		question string
		q        string
		kind     query.Kind
		keywords []string
		tables   []string
	}

	seeds := []seedExample{
		{
			question: "How many tasks are in progress?",
			q: "SELECT COUNT(*) AS count FROM task.tasks " +
				"WHERE project_id = :project_id AND status = 'IN_PROGRESS' LIMIT 1",
			kind:     query.KindRelational,
			keywords: []string{"task", "progress", "count"},
			tables:   []string{"task.tasks"},
		},
		{
			question: "List tasks assigned to each member in the current sprint",
			q: "SELECT u.name, t.title, t.status FROM task.tasks t " +
				"JOIN auth.users u ON t.assignee_id = u.id " +
				"JOIN sprint.sprints s ON t.sprint_id = s.id " +
				"WHERE t.project_id = :project_id AND s.project_id = :project_id " +
				"AND s.state = 'ACTIVE' LIMIT 100",
			kind:     query.KindRelational,
			keywords: []string{"task", "assignee", "sprint", "member"},
			tables:   []string{"task.tasks", "auth.users", "sprint.sprints"},
		},
		{
			question: "What is the completion rate of the current sprint?",
			q: "SELECT COUNT(*) FILTER (WHERE t.status = 'DONE')::float / NULLIF(COUNT(*), 0) AS completion_rate " +
				"FROM task.tasks t JOIN sprint.sprints s ON t.sprint_id = s.id " +
				"WHERE t.project_id = :project_id AND s.project_id = :project_id " +
				"AND s.state = 'ACTIVE' LIMIT 1",
			kind:     query.KindRelational,
			keywords: []string{"sprint", "completion", "rate"},
			tables:   []string{"task.tasks", "sprint.sprints"},
		},
		{
			question: "Which backlog items have no linked requirement?",
			q: "SELECT b.id, b.title FROM sprint.backlog_items b " +
				"WHERE b.project_id = :project_id AND b.requirement_id IS NULL LIMIT 100",
			kind:     query.KindRelational,
			keywords: []string{"backlog", "requirement", "orphan"},
			tables:   []string{"sprint.backlog_items"},
		},
		{
			question: "Find design documents for this project",
			q: "SELECT doc_id, title FROM documents " +
				"WHERE project_id = :project_id AND category = 'design' " +
				"ORDER BY created_at DESC LIMIT 100",
			kind:     query.KindGraph,
			keywords: []string{"document", "design"},
			tables:   []string{"documents"},
		},
		{
			question: "Show the chunks of the architecture decision record",
			q: "SELECT c.chunk_id, c.content FROM chunks c " +
				"JOIN documents d ON c.doc_id = d.doc_id " +
				"WHERE c.project_id = :project_id AND d.project_id = :project_id " +
				"AND d.title LIKE '%architecture%' " +
				"ORDER BY c.chunk_index LIMIT 100",
			kind:     query.KindGraph,
			keywords: []string{"document", "chunk", "architecture"},
			tables:   []string{"documents", "chunks"},
		},
	}

	for _, sd := range seeds {
		s.Add(ctx, sd.question, sd.q, sd.kind, sd.keywords, sd.tables, true)
	}
}
