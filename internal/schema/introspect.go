package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/DanielHyeon/pms-ic-sub000/internal/query"
)

const columnsQuery = `
SELECT table_schema, table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema IN (%s)
ORDER BY table_schema, table_name, ordinal_position`

const primaryKeysQuery = `
SELECT kcu.table_schema, kcu.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
	ON tc.constraint_name = kcu.constraint_name
	AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema IN (%s)`

const foreignKeysQuery = `
SELECT kcu.table_schema, kcu.table_name, kcu.column_name,
	ccu.table_schema, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
	ON tc.constraint_name = kcu.constraint_name
	AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
	ON tc.constraint_name = ccu.constraint_name
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema IN (%s)`

// loadRelational queries information_schema for the configured logical
// schemas. Caller holds the write lock.
func (c *Catalog) loadRelational(ctx context.Context) (map[string]TableInfo, error) {
	if c.db == nil {
		return nil, fmt.Errorf("%w: relational store not configured", query.ErrBackendUnavailable)
	}

	placeholders := make([]string, len(c.opts.LogicalSchemas))
	args := make([]any, len(c.opts.LogicalSchemas))
	for i, s := range c.opts.LogicalSchemas {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = s
	}
	in := strings.Join(placeholders, ", ")

	tables := make(map[string]TableInfo)

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(columnsQuery, in), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", query.ErrBackendUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var schemaName, tableName, colName, dataType, nullable string
		if err := rows.Scan(&schemaName, &tableName, &colName, &dataType, &nullable); err != nil {
			return nil, err
		}
		key := schemaName + "." + tableName
		info, ok := tables[key]
		if !ok {
			info = TableInfo{Schema: schemaName, Name: tableName}
		}
		info.Columns = append(info.Columns, ColumnInfo{
			Name:     colName,
			Type:     dataType,
			Nullable: strings.EqualFold(nullable, "YES"),
		})
		tables[key] = info
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", query.ErrBackendUnavailable, err)
	}

	pkRows, err := c.db.QueryContext(ctx, fmt.Sprintf(primaryKeysQuery, in), args...)
	if err == nil {
		defer pkRows.Close()
		for pkRows.Next() {
			var schemaName, tableName, colName string
			if err := pkRows.Scan(&schemaName, &tableName, &colName); err != nil {
				continue
			}
			key := schemaName + "." + tableName
			if info, ok := tables[key]; ok {
				info.PrimaryKey = colName
				tables[key] = info
			}
		}
	}

	fkRows, err := c.db.QueryContext(ctx, fmt.Sprintf(foreignKeysQuery, in), args...)
	if err == nil {
		defer fkRows.Close()
		for fkRows.Next() {
			var s, t, col, rs, rt, rc string
			if err := fkRows.Scan(&s, &t, &col, &rs, &rt, &rc); err != nil {
				continue
			}
			key := s + "." + t
			if info, ok := tables[key]; ok {
				info.ForeignKeys = append(info.ForeignKeys, ForeignKey{
					Column: col, RefSchema: rs, RefTable: rt, RefColumn: rc,
				})
				tables[key] = info
			}
		}
	}

	// Invariant: project-scoped tables must actually carry project_id.
	for name := range c.opts.ProjectScoped {
		if info, ok := tables[name]; ok && !info.HasColumn("project_id") {
			return nil, fmt.Errorf("project-scoped table %s lacks a project_id column", name)
		}
	}

	return tables, nil
}
