package graph

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/DanielHyeon/pms-ic-sub000/internal/embedding"
	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
)

// SQLiteStore is the embedded Store implementation. When the sqlite-vec
// extension is present (sqlite_vec build tag) nearest-neighbour search runs
// in the vec0 virtual table; otherwise a cosine scan over stored embeddings
// is used.
type SQLiteStore struct {
	mu        sync.RWMutex
	db        *sql.DB
	vectorExt bool
	dims      int
}

// NewSQLiteStore opens (or creates) the store at path. Use ":memory:" for
// tests.
func NewSQLiteStore(path string, dims int) (*SQLiteStore, error) {
	if dims <= 0 {
		dims = 384
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	// sqlite handles one writer at a time; the pool must not spread a
	// :memory: database over multiple connections.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, dims: dims}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	s.detectVecExtension()

	logging.L(logging.CategoryRetrieval).Info("graph store ready",
		zap.String("path", path), zap.Bool("vector_ext", s.vectorExt))
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		doc_id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		project_id TEXT NOT NULL DEFAULT 'default',
		access_level INTEGER NOT NULL DEFAULT 0,
		category TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
		project_id TEXT NOT NULL DEFAULT 'default',
		access_level INTEGER NOT NULL DEFAULT 0,
		chunk_index INTEGER NOT NULL DEFAULT 0,
		content TEXT NOT NULL,
		embedding BLOB,
		has_table INTEGER NOT NULL DEFAULT 0,
		has_list INTEGER NOT NULL DEFAULT 0,
		section_title TEXT NOT NULL DEFAULT '',
		page_number INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_project ON chunks(project_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_access ON chunks(access_level);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id, chunk_index);
	CREATE INDEX IF NOT EXISTS idx_documents_project ON documents(project_id);
	CREATE INDEX IF NOT EXISTS idx_documents_access ON documents(access_level);
	CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize graph schema: %w", err)
	}
	return nil
}

// detectVecExtension probes for vec0 virtual table support.
func (s *SQLiteStore) detectVecExtension() {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		ddl := fmt.Sprintf(
			"CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(chunk_id TEXT PRIMARY KEY, embedding float[%d])", s.dims)
		if _, err := s.db.Exec(ddl); err == nil {
			s.vectorExt = true
			return
		}
	}
	s.vectorExt = false
}

// UpsertDocument stores a document and its chunks transactionally.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.DocID == "" {
		return fmt.Errorf("document id required")
	}
	if doc.ProjectID == "" {
		doc.ProjectID = DefaultProjectID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", errUnavailable, err)
	}
	defer tx.Rollback()

	metaJSON, _ := json.Marshal(doc.Metadata)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (doc_id, title, project_id, access_level, category, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			title=excluded.title, project_id=excluded.project_id,
			access_level=excluded.access_level, category=excluded.category,
			metadata=excluded.metadata`,
		doc.DocID, doc.Title, doc.ProjectID, doc.AccessLevel, doc.Category, string(metaJSON)); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE doc_id = ?", doc.DocID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if s.vectorExt {
		_, _ = tx.ExecContext(ctx,
			"DELETE FROM vec_chunks WHERE chunk_id IN (SELECT chunk_id FROM chunks WHERE doc_id = ?)", doc.DocID)
	}

	for i, c := range chunks {
		if c.ChunkID == "" {
			c.ChunkID = fmt.Sprintf("%s#%d", doc.DocID, i)
		}
		// redundant ACL columns come from the parent, always
		c.ProjectID = doc.ProjectID
		c.AccessLevel = doc.AccessLevel

		var blob []byte
		if len(c.Embedding) > 0 {
			blob = encodeFloat32Blob(c.Embedding)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (chunk_id, doc_id, project_id, access_level, chunk_index,
				content, embedding, has_table, has_list, section_title, page_number)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ChunkID, doc.DocID, c.ProjectID, c.AccessLevel, c.ChunkIndex,
			c.Content, blob, boolInt(c.HasTable), boolInt(c.HasList), c.SectionTitle, c.PageNumber); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
		if s.vectorExt && blob != nil {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)", c.ChunkID, blob); err != nil {
				return fmt.Errorf("index chunk %d: %w", i, err)
			}
		}
	}

	return tx.Commit()
}

// DeleteDocument removes a document and its chunks.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vectorExt {
		_, _ = s.db.ExecContext(ctx,
			"DELETE FROM vec_chunks WHERE chunk_id IN (SELECT chunk_id FROM chunks WHERE doc_id = ?)", docID)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE doc_id = ?", docID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE doc_id = ?", docID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDocument fetches one document.
func (s *SQLiteStore) GetDocument(ctx context.Context, docID string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc Document
	var metaJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT doc_id, title, project_id, access_level, category, metadata, created_at
		FROM documents WHERE doc_id = ?`, docID).
		Scan(&doc.DocID, &doc.Title, &doc.ProjectID, &doc.AccessLevel, &doc.Category, &metaJSON, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &doc.Metadata)
	}
	return &doc, nil
}

// UpdateDocumentMetadata patches metadata keys and returns the updated names.
func (s *SQLiteStore) UpdateDocumentMetadata(ctx context.Context, docID string, fields map[string]any) ([]string, error) {
	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.Metadata == nil {
		doc.Metadata = make(map[string]any)
	}
	updated := make([]string, 0, len(fields))
	for k, v := range fields {
		doc.Metadata[k] = v
		updated = append(updated, k)
	}
	sort.Strings(updated)

	metaJSON, _ := json.Marshal(doc.Metadata)
	if _, err := s.db.ExecContext(ctx,
		"UPDATE documents SET metadata = ? WHERE doc_id = ?", string(metaJSON), docID); err != nil {
		return nil, err
	}
	return updated, nil
}

// SearchChunks returns the nearest chunks, best first.
func (s *SQLiteStore) SearchChunks(ctx context.Context, queryEmbedding []float32, limit int) ([]ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	if s.vectorExt {
		return s.searchVec(ctx, queryEmbedding, limit)
	}
	return s.searchScan(ctx, queryEmbedding, limit)
}

func (s *SQLiteStore) searchVec(ctx context.Context, queryEmbedding []float32, limit int) ([]ScoredChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chunk_id, c.doc_id, c.project_id, c.access_level, c.chunk_index,
			c.content, c.has_table, c.has_list, c.section_title, c.page_number,
			vec_distance_cosine(v.embedding, ?) AS distance
		FROM vec_chunks v
		JOIN chunks c ON c.chunk_id = v.chunk_id
		ORDER BY distance ASC
		LIMIT ?`, encodeFloat32Blob(queryEmbedding), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnavailable, err)
	}
	defer rows.Close()

	var out []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		var hasTable, hasList int
		var distance float64
		if err := rows.Scan(&sc.ChunkID, &sc.DocID, &sc.ProjectID, &sc.AccessLevel, &sc.ChunkIndex,
			&sc.Content, &hasTable, &hasList, &sc.SectionTitle, &sc.PageNumber, &distance); err != nil {
			continue
		}
		sc.HasTable, sc.HasList = hasTable != 0, hasList != 0
		sc.Score = 1.0 - distance
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) searchScan(ctx context.Context, queryEmbedding []float32, limit int) ([]ScoredChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, doc_id, project_id, access_level, chunk_index,
			content, embedding, has_table, has_list, section_title, page_number
		FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnavailable, err)
	}
	defer rows.Close()

	var out []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		var blob []byte
		var hasTable, hasList int
		if err := rows.Scan(&sc.ChunkID, &sc.DocID, &sc.ProjectID, &sc.AccessLevel, &sc.ChunkIndex,
			&sc.Content, &blob, &hasTable, &hasList, &sc.SectionTitle, &sc.PageNumber); err != nil {
			continue
		}
		vec := decodeFloat32Blob(blob)
		sim, err := embedding.CosineSimilarity(queryEmbedding, vec)
		if err != nil {
			continue
		}
		sc.HasTable, sc.HasList = hasTable != 0, hasList != 0
		sc.Score = sim
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// NeighborChunks resolves the NEXT_CHUNK chain around a chunk.
func (s *SQLiteStore) NeighborChunks(ctx context.Context, chunkID string) (*Chunk, *Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docID string
	var idx int
	err := s.db.QueryRowContext(ctx,
		"SELECT doc_id, chunk_index FROM chunks WHERE chunk_id = ?", chunkID).Scan(&docID, &idx)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	prev := s.chunkAt(ctx, docID, idx-1)
	next := s.chunkAt(ctx, docID, idx+1)
	return prev, next, nil
}

func (s *SQLiteStore) chunkAt(ctx context.Context, docID string, idx int) *Chunk {
	if idx < 0 {
		return nil
	}
	var c Chunk
	var hasTable, hasList int
	err := s.db.QueryRowContext(ctx, `
		SELECT chunk_id, doc_id, project_id, access_level, chunk_index,
			content, has_table, has_list, section_title, page_number
		FROM chunks WHERE doc_id = ? AND chunk_index = ?`, docID, idx).
		Scan(&c.ChunkID, &c.DocID, &c.ProjectID, &c.AccessLevel, &c.ChunkIndex,
			&c.Content, &hasTable, &hasList, &c.SectionTitle, &c.PageNumber)
	if err != nil {
		return nil
	}
	c.HasTable, c.HasList = hasTable != 0, hasList != 0
	return &c
}

// RecentCategoryDocuments lists recent documents sharing a category.
func (s *SQLiteStore) RecentCategoryDocuments(ctx context.Context, category, excludeDoc string, limit int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if category == "" || limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, title, project_id, access_level, category, created_at
		FROM documents
		WHERE category = ? AND doc_id != ?
		ORDER BY created_at DESC
		LIMIT ?`, category, excludeDoc, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.DocID, &d.Title, &d.ProjectID, &d.AccessLevel, &d.Category, &d.CreatedAt); err != nil {
			continue
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Schema introspects the stored labels and relationship types.
func (s *SQLiteStore) Schema(ctx context.Context) (*SchemaInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := &SchemaInfo{
		Labels: make(map[string]map[string]string),
		Tables: make(map[string]map[string]string),
		Relationships: []RelationshipInfo{
			{Type: RelHasDocument, StartLabel: LabelProject, EndLabel: LabelDocument},
			{Type: RelHasChunk, StartLabel: LabelDocument, EndLabel: LabelChunk},
			{Type: RelBelongsTo, StartLabel: LabelDocument, EndLabel: LabelCategory},
			{Type: RelNextChunk, StartLabel: LabelChunk, EndLabel: LabelChunk},
		},
	}

	for label, table := range map[string]string{
		LabelDocument: "documents",
		LabelChunk:    "chunks",
	} {
		props, err := s.tableProps(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errUnavailable, err)
		}
		info.Labels[label] = props
		info.Tables[table] = props
	}
	// Project and Category exist as reference values on documents.
	info.Labels[LabelProject] = map[string]string{"project_id": "TEXT"}
	info.Labels[LabelCategory] = map[string]string{"name": "TEXT"}
	return info, nil
}

func (s *SQLiteStore) tableProps(ctx context.Context, table string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	props := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			continue
		}
		props[name] = typ
	}
	return props, rows.Err()
}

// CheckQuery prepares the query without executing it.
func (s *SQLiteStore) CheckQuery(ctx context.Context, q string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stmt, err := s.db.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	return stmt.Close()
}

// ExecuteRead runs a read query with named parameters under a timeout and
// row cap.
func (s *SQLiteStore) ExecuteRead(ctx context.Context, q string, params map[string]any, timeout time.Duration, rowCap int) (*QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := make([]any, 0, len(params))
	for k, v := range params {
		args = append(args, sql.Named(k, v))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &QueryResult{Columns: cols}
	for rows.Next() {
		if rowCap > 0 && len(result.Rows) >= rowCap {
			result.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		result.Rows = append(result.Rows, row)
	}
	return result, rows.Err()
}

// Stats returns node counts by label.
func (s *SQLiteStore) Stats(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	for label, q := range map[string]string{
		LabelDocument: "SELECT COUNT(*) FROM documents",
		LabelChunk:    "SELECT COUNT(*) FROM chunks",
		LabelProject:  "SELECT COUNT(DISTINCT project_id) FROM documents",
		LabelCategory: "SELECT COUNT(DISTINCT category) FROM documents WHERE category != ''",
	} {
		var n int64
		if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return nil, fmt.Errorf("%w: %v", errUnavailable, err)
		}
		stats[label] = n
	}
	return stats, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeFloat32Blob encodes a float32 slice little-endian, the layout
// sqlite-vec expects.
func encodeFloat32Blob(vec []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}

func decodeFloat32Blob(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	_ = binary.Read(bytes.NewReader(blob), binary.LittleEndian, &vec)
	return vec
}
