package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/db"
	"github.com/owasp/nest/pkg/log"
)

var logger = log.ForService("storage")

// ErrNotFound is returned by Get for unknown object ids.
var ErrNotFound = errors.New("document not found")

// Index is the local SQLite store of one search index. Documents live in a
// regular table and their searchable text in an FTS5 table sharing rowids.
type Index struct {
	db   *sql.DB
	path string
	def  core.IndexDefinition
}

// IndexStats summarizes the contents of an index.
type IndexStats struct {
	Name      string    `json:"name"`
	Documents int       `json:"documents"`
	Oldest    time.Time `json:"oldest,omitempty"`
	Newest    time.Time `json:"newest,omitempty"`
	LastSync  time.Time `json:"last_sync,omitempty"`
	SizeBytes int64     `json:"size_bytes"`
}

// OpenIndex opens (creating if needed) the database at dbPath and brings it
// to the current schema.
func OpenIndex(dbPath string, def core.IndexDefinition) (*Index, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = memory",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if err := db.InitializeDatabase(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating %s: %w", def.Name, err)
	}

	return &Index{db: conn, path: dbPath, def: def}, nil
}

func (s *Index) Name() string {
	return s.def.Name
}

func (s *Index) Definition() core.IndexDefinition {
	return s.def
}

func (s *Index) Close() error {
	return s.db.Close()
}

// Upsert inserts or replaces documents by object id. Documents from other
// indexes are rejected.
func (s *Index) Upsert(ctx context.Context, docs []*core.Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				logger.Warnf("rolling back upsert into %s: %v", s.def.Name, err)
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (object_id, key, name, summary, url, updated_at, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(object_id) DO UPDATE SET
			key = excluded.key,
			name = excluded.name,
			summary = excluded.summary,
			url = excluded.url,
			updated_at = excluded.updated_at,
			attributes = excluded.attributes
		RETURNING rowid
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	ftsDelete, err := tx.PrepareContext(ctx, `DELETE FROM documents_fts WHERE rowid = ?`)
	if err != nil {
		return fmt.Errorf("preparing FTS delete: %w", err)
	}
	defer ftsDelete.Close()

	ftsInsert, err := tx.PrepareContext(ctx, `INSERT INTO documents_fts (rowid, text) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing FTS insert: %w", err)
	}
	defer ftsInsert.Close()

	for _, doc := range docs {
		if doc.Index != "" && doc.Index != s.def.Name {
			return fmt.Errorf("document %s belongs to index %s, not %s", doc.ObjectID, doc.Index, s.def.Name)
		}
		if doc.ObjectID == "" {
			doc.ObjectID = core.ObjectID(s.def.Name, doc.Key)
		}

		attrs := doc.Attributes
		if attrs == nil {
			attrs = map[string]any{}
		}
		attrsJSON, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("marshaling attributes of %s: %w", doc.ObjectID, err)
		}

		updatedAt := doc.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now()
		}

		var rowid int64
		err = stmt.QueryRowContext(ctx,
			doc.ObjectID, doc.Key, doc.Name, doc.Summary, doc.URL,
			updatedAt.UTC().Format(time.RFC3339), string(attrsJSON),
		).Scan(&rowid)
		if err != nil {
			return fmt.Errorf("upserting %s: %w", doc.ObjectID, err)
		}

		if _, err := ftsDelete.ExecContext(ctx, rowid); err != nil {
			return fmt.Errorf("clearing FTS row of %s: %w", doc.ObjectID, err)
		}
		if _, err := ftsInsert.ExecContext(ctx, rowid, doc.Text()); err != nil {
			return fmt.Errorf("indexing %s: %w", doc.ObjectID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}
	committed = true
	return nil
}

// Delete removes documents by object id and returns how many existed.
func (s *Index) Delete(ctx context.Context, objectIDs ...string) (int, error) {
	if len(objectIDs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	deleted := 0
	for _, id := range objectIDs {
		var rowid int64
		err := tx.QueryRowContext(ctx, `DELETE FROM documents WHERE object_id = ? RETURNING rowid`, id).Scan(&rowid)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("deleting %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents_fts WHERE rowid = ?`, rowid); err != nil {
			return 0, fmt.Errorf("deleting FTS row of %s: %w", id, err)
		}
		deleted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}
	committed = true
	return deleted, nil
}

// Prune deletes every document whose object id is not in keep. It is used
// after a full sync to drop entries that disappeared upstream.
func (s *Index) Prune(ctx context.Context, keep map[string]bool) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT object_id FROM documents`)
	if err != nil {
		return 0, fmt.Errorf("listing documents: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning object id: %w", err)
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	return s.Delete(ctx, stale...)
}

// Get returns one document by object id.
func (s *Index) Get(ctx context.Context, objectID string) (*core.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT object_id, key, name, summary, url, updated_at, attributes
		FROM documents WHERE object_id = ?`, objectID)

	doc, err := s.scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, objectID)
	}
	return doc, err
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Index) scanDocument(row scanner) (*core.Document, error) {
	var (
		doc       core.Document
		updatedAt string
		attrs     string
	)
	if err := row.Scan(&doc.ObjectID, &doc.Key, &doc.Name, &doc.Summary, &doc.URL, &updatedAt, &attrs); err != nil {
		return nil, err
	}
	doc.Index = s.def.Name

	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		doc.UpdatedAt = t
	}
	if err := json.Unmarshal([]byte(attrs), &doc.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshaling attributes of %s: %w", doc.ObjectID, err)
	}
	return &doc, nil
}

// Count returns the number of documents in the index.
func (s *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

func (s *Index) Stats(ctx context.Context) (IndexStats, error) {
	stats := IndexStats{Name: s.def.Name}

	var oldest, newest sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(updated_at), MAX(updated_at) FROM documents",
	).Scan(&stats.Documents, &oldest, &newest)
	if err != nil {
		return stats, fmt.Errorf("reading stats of %s: %w", s.def.Name, err)
	}
	if oldest.Valid {
		stats.Oldest, _ = time.Parse(time.RFC3339, oldest.String)
	}
	if newest.Valid {
		stats.Newest, _ = time.Parse(time.RFC3339, newest.String)
	}

	if stats.LastSync, err = s.LastSyncTime(ctx); err != nil {
		return stats, err
	}
	if fi, err := os.Stat(s.path); err == nil {
		stats.SizeBytes = fi.Size()
	}
	return stats, nil
}

func (s *Index) SetLastSyncTime(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_metadata (key, value, updated_at)
		VALUES ('last_sync', ?, ?)
	`, t.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339))
	return err
}

// LastSyncTime returns the zero time when the index was never synced.
func (s *Index) LastSyncTime(ctx context.Context) (time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_metadata WHERE key = 'last_sync'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading last sync time: %w", err)
	}
	return time.Parse(time.RFC3339, value)
}

// Optimize merges the FTS segments and refreshes planner statistics.
func (s *Index) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO documents_fts(documents_fts) VALUES ('optimize')`); err != nil {
		return fmt.Errorf("optimizing FTS index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("running PRAGMA optimize: %w", err)
	}
	return nil
}

func (s *Index) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *Index) WALCheckpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}
