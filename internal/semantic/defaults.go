package semantic

// DefaultMDL returns the built-in PMS model catalogue, used when no MDL file
// is configured.
func DefaultMDL() *MDL {
	return &MDL{
		Models: []Model{
			{
				Name:        "projects",
				DisplayName: "Projects",
				Description: "Top-level projects with lifecycle status",
				Table:       "project.projects",
				Keywords:    []string{"project", "프로젝트"},
				Columns: []Column{
					{Name: "id", Type: "uuid"},
					{Name: "name", Type: "text"},
					{Name: "status", Type: "text"},
					{Name: "start_date", Type: "date"},
					{Name: "end_date", Type: "date"},
				},
			},
			{
				Name:        "tasks",
				DisplayName: "Tasks",
				Description: "Work items with status, assignee and estimates",
				Table:       "task.tasks",
				Keywords:    []string{"task", "issue", "작업", "이슈", "in progress", "done", "todo"},
				Columns: []Column{
					{Name: "id", Type: "uuid"},
					{Name: "project_id", Type: "uuid"},
					{Name: "sprint_id", Type: "uuid"},
					{Name: "assignee_id", Type: "uuid"},
					{Name: "title", Type: "text"},
					{Name: "status", Type: "text"},
					{Name: "story_points", Type: "integer"},
					{Name: "is_overdue", Type: "boolean",
						Expression: "due_date < CURRENT_DATE AND status != 'DONE'"},
				},
			},
			{
				Name:        "sprints",
				DisplayName: "Sprints",
				Description: "Iterations with dates and goals",
				Table:       "sprint.sprints",
				Keywords:    []string{"sprint", "iteration", "스프린트", "velocity", "속도"},
				Columns: []Column{
					{Name: "id", Type: "uuid"},
					{Name: "project_id", Type: "uuid"},
					{Name: "name", Type: "text"},
					{Name: "state", Type: "text"},
					{Name: "start_date", Type: "date"},
					{Name: "end_date", Type: "date"},
				},
			},
			{
				Name:        "backlog",
				DisplayName: "Backlog items",
				Description: "Product backlog with priority and requirement links",
				Table:       "sprint.backlog_items",
				Keywords:    []string{"backlog", "story", "백로그", "스토리", "priority"},
				Columns: []Column{
					{Name: "id", Type: "uuid"},
					{Name: "project_id", Type: "uuid"},
					{Name: "requirement_id", Type: "uuid"},
					{Name: "title", Type: "text"},
					{Name: "priority", Type: "integer"},
					{Name: "story_points", Type: "integer"},
				},
			},
			{
				Name:        "users",
				DisplayName: "Users",
				Description: "Members and their roles",
				Table:       "auth.users",
				Keywords:    []string{"member", "user", "사용자", "멤버"},
				Columns: []Column{
					{Name: "id", Type: "uuid"},
					{Name: "name", Type: "text"},
					{Name: "role", Type: "text"},
				},
			},
			{
				Name:        "requirements",
				DisplayName: "Requirements",
				Description: "Requirements with traceability to backlog items",
				Table:       "requirement.requirements",
				Keywords:    []string{"requirement", "요구사항", "traceability"},
				Columns: []Column{
					{Name: "id", Type: "uuid"},
					{Name: "project_id", Type: "uuid"},
					{Name: "title", Type: "text"},
					{Name: "status", Type: "text"},
				},
			},
		},
		Relationships: []Relationship{
			{
				Name: "task_assignee", Source: "tasks", Target: "users",
				JoinOn:      "task.tasks.assignee_id = auth.users.id",
				Cardinality: "many_to_one",
				Triggers:    []string{"assignee", "assigned", "담당자"},
			},
			{
				Name: "task_sprint", Source: "tasks", Target: "sprints",
				JoinOn:      "task.tasks.sprint_id = sprint.sprints.id",
				Cardinality: "many_to_one",
			},
			{
				Name: "backlog_requirement", Source: "backlog", Target: "requirements",
				JoinOn:      "sprint.backlog_items.requirement_id = requirement.requirements.id",
				Cardinality: "many_to_one",
				Triggers:    []string{"traceability", "coverage"},
			},
		},
		Metrics: []Metric{
			{
				Name: "velocity", BaseModel: "sprints",
				Expression: "SUM(task.tasks.story_points) FILTER (WHERE task.tasks.status = 'DONE')",
				Dimensions: []string{"sprint.sprints.id"}, TimeGrain: "sprint",
			},
			{
				Name: "completion_rate", BaseModel: "tasks",
				Expression: "COUNT(*) FILTER (WHERE status = 'DONE')::float / NULLIF(COUNT(*), 0)",
				Dimensions: []string{"project_id"}, TimeGrain: "day",
			},
		},
	}
}
