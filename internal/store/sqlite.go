// Package store provides the durable SQLite backend of the graph. It
// implements the same contract as the in-memory store, so the pipeline
// and the query engines never know which one they are talking to.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"grafema/internal/graph"
	"grafema/internal/logging"
)

// SQLiteStore persists the graph in a single SQLite database. A
// RWMutex keeps the single-writer discipline: sqlite serializes
// writes anyway, and the mutex keeps BFS reads from interleaving with
// a half-applied batch.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string

	knownEdgeTypes map[string]struct{}
}

// Open initializes the SQLite database at the given path, creating
// parent directories and running migrations.
func Open(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening graph database at %s", path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &SQLiteStore{
		db:             db,
		dbPath:         path,
		knownEdgeTypes: make(map[string]struct{}),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadEdgeTypes(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Graph database ready (%d nodes, %d edges)", s.NodeCount(), s.EdgeCount())
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		file TEXT NOT NULL DEFAULT '',
		line INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(type);

	CREATE TABLE IF NOT EXISTS edges (
		src TEXT NOT NULL,
		dst TEXT NOT NULL,
		type TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		UNIQUE(src, dst, type)
	);
	CREATE INDEX IF NOT EXISTS idx_edges_src ON edges(src);
	CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst);

	CREATE TABLE IF NOT EXISTS edge_types (
		name TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS guarantees (
		name TEXT PRIMARY KEY,
		doc TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadEdgeTypes() error {
	for _, et := range graph.DefaultEdgeCatalog() {
		s.knownEdgeTypes[et] = struct{}{}
	}
	rows, err := s.db.Query(`SELECT name FROM edge_types`)
	if err != nil {
		return fmt.Errorf("load edge types: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		s.knownEdgeTypes[name] = struct{}{}
	}
	return rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

// GetNode returns the node with the given ID, or nil if absent.
func (s *SQLiteStore) GetNode(id string) (*graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getNodeLocked(id)
}

func (s *SQLiteStore) getNodeLocked(id string) (*graph.Node, error) {
	var n graph.Node
	var metaJSON string
	err := s.db.QueryRow(
		`SELECT id, type, name, file, line, metadata FROM nodes WHERE id = ?`, id,
	).Scan(&n.ID, &n.Type, &n.Name, &n.File, &n.Line, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if metaJSON != "" && metaJSON != "{}" {
		if err := json.Unmarshal([]byte(metaJSON), &n.Metadata); err != nil {
			logging.Get(logging.CategoryStore).Warn("Corrupt metadata on node %s: %v", id, err)
		}
	}
	return &n, nil
}

// AddNode upserts a node by ID.
func (s *SQLiteStore) AddNode(n graph.Node) error {
	if n.ID == "" || n.Type == "" {
		return fmt.Errorf("%w: id and type are required", graph.ErrInvalidNode)
	}

	metaJSON, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal node metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO nodes (id, type, name, file, line, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.Type, n.Name, n.File, n.Line, string(metaJSON),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to store node %s: %v", n.ID, err)
		return err
	}
	return nil
}

// AddEdge inserts an edge, failing on duplicates and dangling
// endpoints.
func (s *SQLiteStore) AddEdge(e graph.Edge) error {
	return s.insertEdge(e, false)
}

// PutEdge upserts an edge; re-running the producer is a no-op apart
// from refreshed metadata.
func (s *SQLiteStore) PutEdge(e graph.Edge) error {
	return s.insertEdge(e, true)
}

func (s *SQLiteStore) insertEdge(e graph.Edge, upsert bool) error {
	if e.Src == "" || e.Dst == "" || e.Type == "" {
		return fmt.Errorf("%w: src, dst and type are required", graph.ErrInvalidEdge)
	}

	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal edge metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range []string{e.Src, e.Dst} {
		n, err := s.getNodeLocked(id)
		if err != nil {
			return err
		}
		if n == nil {
			return fmt.Errorf("%w: %q", graph.ErrDanglingEdge, id)
		}
	}

	if !upsert {
		var exists int
		err := s.db.QueryRow(
			`SELECT 1 FROM edges WHERE src = ? AND dst = ? AND type = ?`, e.Src, e.Dst, e.Type,
		).Scan(&exists)
		if err == nil {
			return fmt.Errorf("%w: %s -[%s]-> %s", graph.ErrDuplicateEdge, e.Src, e.Type, e.Dst)
		}
		if err != sql.ErrNoRows {
			return err
		}
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO edges (src, dst, type, metadata) VALUES (?, ?, ?, ?)`,
		e.Src, e.Dst, e.Type, string(metaJSON),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to store edge %s -[%s]-> %s: %v", e.Src, e.Type, e.Dst, err)
		return err
	}

	if _, known := s.knownEdgeTypes[e.Type]; !known {
		s.knownEdgeTypes[e.Type] = struct{}{}
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO edge_types (name) VALUES (?)`, e.Type); err != nil {
			return fmt.Errorf("register edge type %q: %w", e.Type, err)
		}
	}
	return nil
}

// OutgoingEdges returns edges leaving id, optionally filtered by type.
func (s *SQLiteStore) OutgoingEdges(id string, edgeTypes []string) ([]graph.Edge, error) {
	if err := graph.ValidateEdgeFilter(s, edgeTypes); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edgesLocked("src", id, edgeTypes)
}

// IncomingEdges returns edges arriving at id, optionally filtered by
// type.
func (s *SQLiteStore) IncomingEdges(id string, edgeTypes []string) ([]graph.Edge, error) {
	if err := graph.ValidateEdgeFilter(s, edgeTypes); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edgesLocked("dst", id, edgeTypes)
}

func (s *SQLiteStore) edgesLocked(endpoint, id string, edgeTypes []string) ([]graph.Edge, error) {
	query := fmt.Sprintf(`SELECT src, dst, type, metadata FROM edges WHERE %s = ?`, endpoint)
	args := []interface{}{id}
	if len(edgeTypes) > 0 {
		query += ` AND type IN (?` + strings.Repeat(", ?", len(edgeTypes)-1) + `)`
		for _, et := range edgeTypes {
			args = append(args, et)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []graph.Edge
	for rows.Next() {
		var e graph.Edge
		var metaJSON string
		if err := rows.Scan(&e.Src, &e.Dst, &e.Type, &metaJSON); err != nil {
			return nil, err
		}
		if metaJSON != "" && metaJSON != "{}" && metaJSON != "null" {
			if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
				logging.Get(logging.CategoryStore).Warn("Corrupt metadata on edge %s -[%s]-> %s: %v",
					e.Src, e.Type, e.Dst, err)
			}
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// FindByType returns IDs of nodes whose type matches the pattern,
// with a trailing '*' matching any suffix.
func (s *SQLiteStore) FindByType(pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows *sql.Rows
	var err error
	if n := len(pattern); n > 0 && pattern[n-1] == '*' {
		prefix := strings.NewReplacer("%", `\%`, "_", `\_`).Replace(pattern[:n-1])
		rows, err = s.db.Query(`SELECT id FROM nodes WHERE type LIKE ? ESCAPE '\' ORDER BY id`, prefix+"%")
	} else {
		rows, err = s.db.Query(`SELECT id FROM nodes WHERE type = ? ORDER BY id`, pattern)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BFS walks outgoing edges from the start nodes up to maxDepth. The
// whole walk runs under one read lock so it sees a consistent graph.
func (s *SQLiteStore) BFS(startIDs []string, maxDepth int, edgeTypes []string) ([]string, error) {
	if err := graph.ValidateEdgeFilter(s, edgeTypes); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	type queueItem struct {
		id    string
		depth int
	}

	visited := make(map[string]struct{}, len(startIDs))
	var order []string
	var queue []queueItem
	for _, id := range startIDs {
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}
		order = append(order, id)
		queue = append(queue, queueItem{id: id})
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxDepth {
			continue
		}

		edges, err := s.edgesLocked("src", current.id, edgeTypes)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if _, seen := visited[e.Dst]; seen {
				continue
			}
			visited[e.Dst] = struct{}{}
			order = append(order, e.Dst)
			queue = append(queue, queueItem{id: e.Dst, depth: current.depth + 1})
		}
	}
	return order, nil
}

// RegisterEdgeType extends the recognized edge-type catalog.
func (s *SQLiteStore) RegisterEdgeType(edgeType string) {
	if edgeType == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.knownEdgeTypes[edgeType]; known {
		return
	}
	s.knownEdgeTypes[edgeType] = struct{}{}
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO edge_types (name) VALUES (?)`, edgeType); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to persist edge type %q: %v", edgeType, err)
	}
}

// EdgeTypeKnown reports whether a type is in the recognized catalog.
func (s *SQLiteStore) EdgeTypeKnown(edgeType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, known := s.knownEdgeTypes[edgeType]
	return known
}

// CountNodesByType returns node counts grouped by type.
func (s *SQLiteStore) CountNodesByType(types []string) (map[string]int, error) {
	return s.countByType(`SELECT type, COUNT(*) FROM nodes GROUP BY type`, types)
}

// CountEdgesByType returns edge counts grouped by type.
func (s *SQLiteStore) CountEdgesByType(types []string) (map[string]int, error) {
	return s.countByType(`SELECT type, COUNT(*) FROM edges GROUP BY type`, types)
}

func (s *SQLiteStore) countByType(query string, types []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		if len(types) > 0 {
			matched := false
			for _, pattern := range types {
				if graph.MatchTypePattern(pattern, typ) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		counts[typ] += n
	}
	return counts, rows.Err()
}

// NodeCount reports the live node total.
func (s *SQLiteStore) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// EdgeCount reports the live edge total.
func (s *SQLiteStore) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM edges`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Clear resets the graph to empty, keeping the edge-type catalog and
// declared guarantees.
func (s *SQLiteStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM edges`); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to clear edges: %v", err)
	}
	if _, err := s.db.Exec(`DELETE FROM nodes`); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to clear nodes: %v", err)
	}
}
