package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"
	"github.com/secmon-lab/simplemem/pkg/domain/interfaces"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
	"github.com/secmon-lab/simplemem/pkg/utils/logging"

	_ "modernc.org/sqlite"
)

// DBFileName is the SQLite file created inside the configured directory
const DBFileName = "simplemem.db"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// ValidTableName reports whether name can be used as a SQLite table name
func ValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

// Table persists records in a SQLite file and keeps a chromem-go collection
// as the similarity index. The index is rebuilt from the file on Open.
type Table struct {
	dir  string
	name string

	mu    sync.RWMutex
	db    *sql.DB
	index *chromem.Collection
	count int
}

var _ interfaces.RecordTable = &Table{}

// New creates a table named name in directory dir. Nothing is touched on
// disk until Open.
func New(dir, name string) *Table {
	return &Table{dir: dir, name: name}
}

func (t *Table) Name() string {
	return t.name
}

func (t *Table) Location() string {
	return t.dir
}

func (t *Table) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.db != nil {
		return nil
	}
	if !ValidTableName(t.name) {
		return goerr.Wrap(model.ErrInvalidInput, "invalid table name", goerr.V(model.TableNameKey, t.name))
	}

	if err := os.MkdirAll(t.dir, 0o700); err != nil {
		return goerr.Wrap(model.ErrBackendUnavailable, "failed to create data directory",
			goerr.V("dir", t.dir), goerr.V("error", err.Error()))
	}

	dbPath := filepath.Join(t.dir, DBFileName)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return goerr.Wrap(model.ErrBackendUnavailable, "failed to open sqlite database",
			goerr.V("path", dbPath), goerr.V("error", err.Error()))
	}
	// A single connection serializes writers and keeps WAL pragmas effective.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return goerr.Wrap(model.ErrBackendUnavailable, "failed to apply pragma",
				goerr.V("pragma", p), goerr.V("error", err.Error()))
		}
	}

	if _, err := db.ExecContext(ctx, t.schema()); err != nil {
		_ = db.Close()
		return goerr.Wrap(err, "failed to create table", goerr.V(model.TableNameKey, t.name))
	}

	t.db = db
	if err := t.rebuildIndex(ctx); err != nil {
		_ = db.Close()
		t.db = nil
		return err
	}

	logging.From(ctx).Info("Opened local record table",
		"path", dbPath,
		"table", t.name,
		"count", t.count,
	)
	return nil
}

func (t *Table) schema() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_id    TEXT NOT NULL UNIQUE,
		restatement TEXT NOT NULL,
		keywords    TEXT NOT NULL,
		timestamp   TEXT NOT NULL,
		location    TEXT NOT NULL DEFAULT '',
		persons     TEXT NOT NULL,
		entities    TEXT NOT NULL,
		topic       TEXT NOT NULL DEFAULT '',
		vector      TEXT,
		created_at  TEXT NOT NULL
	)`, t.name)
}

const recordColumns = "entry_id, restatement, keywords, timestamp, location, persons, entities, topic, vector, created_at"

// newIndex creates an empty collection. Embeddings are always supplied by
// the caller, so no embedding func is configured.
func newIndex(name string) (*chromem.Collection, error) {
	col, err := chromem.NewDB().CreateCollection(name, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create vector index", goerr.V(model.TableNameKey, name))
	}
	return col, nil
}

// rebuildIndex loads every vector into a fresh collection. Caller holds the write lock.
func (t *Table) rebuildIndex(ctx context.Context) error {
	col, err := newIndex(t.name)
	if err != nil {
		return err
	}

	records, err := t.query(ctx, "SELECT "+recordColumns+" FROM "+t.name+" ORDER BY seq ASC")
	if err != nil {
		return err
	}

	if docs := toDocuments(records); len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, 1); err != nil {
			return goerr.Wrap(err, "failed to load vector index")
		}
	}

	t.index = col
	t.count = len(records)
	return nil
}

func toDocuments(records []*model.MemoryRecord) []chromem.Document {
	docs := make([]chromem.Document, 0, len(records))
	for _, rec := range records {
		if len(rec.Vector) == 0 {
			continue
		}
		docs = append(docs, chromem.Document{
			ID:        rec.EntryID.String(),
			Content:   rec.LosslessRestatement,
			Embedding: rec.Vector,
		})
	}
	return docs
}

func (t *Table) opened() error {
	if t.db == nil {
		return goerr.Wrap(model.ErrNotInitialized, "local table is not open", goerr.V(model.TableNameKey, t.name))
	}
	return nil
}

func (t *Table) Upsert(ctx context.Context, records []*model.MemoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.opened(); err != nil {
		return err
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for _, rec := range records {
		if rec.EntryID == "" {
			return goerr.Wrap(model.ErrInvalidInput, "record has no entry id")
		}

		var exists int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+t.name+" WHERE entry_id = ?", rec.EntryID.String()).Scan(&exists)
		if err != nil {
			return goerr.Wrap(err, "failed to check record", goerr.V(model.EntryIDKey, rec.EntryID))
		}

		args, err := recordArgs(rec)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "INSERT INTO "+t.name+" ("+recordColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"+
			` ON CONFLICT(entry_id) DO UPDATE SET
				restatement = excluded.restatement,
				keywords    = excluded.keywords,
				timestamp   = excluded.timestamp,
				location    = excluded.location,
				persons     = excluded.persons,
				entities    = excluded.entities,
				topic       = excluded.topic,
				vector      = excluded.vector`,
			args...)
		if err != nil {
			return goerr.Wrap(err, "failed to upsert record", goerr.V(model.EntryIDKey, rec.EntryID))
		}
		if exists == 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit records")
	}
	t.count += inserted

	if docs := toDocuments(records); len(docs) > 0 {
		t.updateIndex(ctx, func(ctx context.Context) error {
			return t.index.AddDocuments(ctx, docs, 1)
		})
	}
	return nil
}

// updateIndex applies a change to the vector index after the rows it mirrors
// are committed. The change is not bound to the caller's cancellation, and a
// failure rebuilds the index from the file instead of failing the commit.
// Caller holds the write lock.
func (t *Table) updateIndex(ctx context.Context, apply func(ctx context.Context) error) {
	indexCtx := context.WithoutCancel(ctx)
	err := apply(indexCtx)
	if err == nil {
		return
	}

	logger := logging.From(ctx)
	logger.Warn("Vector index update failed, rebuilding from table",
		"table", t.name,
		"error", err.Error(),
	)
	if err := t.rebuildIndex(indexCtx); err != nil {
		logger.Error("Failed to rebuild vector index",
			"table", t.name,
			"error", err.Error(),
		)
	}
}

func recordArgs(rec *model.MemoryRecord) ([]any, error) {
	keywords, err := json.Marshal(nonNil(rec.Keywords))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal keywords")
	}
	persons, err := json.Marshal(nonNil(rec.Persons))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal persons")
	}
	entities, err := json.Marshal(nonNil(rec.Entities))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal entities")
	}

	var vector any
	if len(rec.Vector) > 0 {
		data, err := json.Marshal(rec.Vector)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal vector")
		}
		vector = string(data)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return []any{
		rec.EntryID.String(),
		rec.LosslessRestatement,
		string(keywords),
		rec.Timestamp,
		rec.Location,
		string(persons),
		string(entities),
		rec.Topic,
		vector,
		createdAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*model.MemoryRecord, error) {
	var rec model.MemoryRecord
	var entryID, keywords, persons, entities, createdAt string
	var vector sql.NullString
	if err := row.Scan(&entryID, &rec.LosslessRestatement, &keywords, &rec.Timestamp, &rec.Location,
		&persons, &entities, &rec.Topic, &vector, &createdAt); err != nil {
		return nil, err
	}
	rec.EntryID = model.EntryID(entryID)

	for _, field := range []struct {
		raw string
		dst *[]string
	}{
		{keywords, &rec.Keywords},
		{persons, &rec.Persons},
		{entities, &rec.Entities},
	} {
		if err := json.Unmarshal([]byte(field.raw), field.dst); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal record field", goerr.V(model.EntryIDKey, entryID))
		}
	}

	if vector.Valid && vector.String != "" {
		if err := json.Unmarshal([]byte(vector.String), &rec.Vector); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal vector", goerr.V(model.EntryIDKey, entryID))
		}
	}

	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = ts
	}
	return &rec, nil
}

func (t *Table) query(ctx context.Context, stmt string, args ...any) ([]*model.MemoryRecord, error) {
	rows, err := t.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query records", goerr.V(model.TableNameKey, t.name))
	}
	defer func() { _ = rows.Close() }()

	records := make([]*model.MemoryRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan record")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate records")
	}
	return records, nil
}

func (t *Table) List(ctx context.Context, limit int) ([]*model.MemoryRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.opened(); err != nil {
		return nil, err
	}

	stmt := "SELECT " + recordColumns + " FROM " + t.name + " ORDER BY seq ASC"
	if limit > 0 {
		return t.query(ctx, stmt+" LIMIT ?", limit)
	}
	return t.query(ctx, stmt)
}

func (t *Table) Get(ctx context.Context, id model.EntryID) (*model.MemoryRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.opened(); err != nil {
		return nil, err
	}

	row := t.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM "+t.name+" WHERE entry_id = ?", id.String())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(model.ErrNotFound, "memory record not found", goerr.V(model.EntryIDKey, id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get record", goerr.V(model.EntryIDKey, id))
	}
	return rec, nil
}

func (t *Table) Search(ctx context.Context, vector []float32, limit int, threshold *float64) ([]*model.ScoredRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.opened(); err != nil {
		return nil, err
	}

	// chromem rejects nResults above the collection size
	n := t.index.Count()
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return []*model.ScoredRecord{}, nil
	}

	hits, err := t.index.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query vector index", goerr.V(model.TableNameKey, t.name))
	}

	ids := make([]any, 0, len(hits))
	scores := make(map[string]float64, len(hits))
	for _, hit := range hits {
		score := float64(hit.Similarity)
		if threshold != nil && score < *threshold {
			continue
		}
		ids = append(ids, hit.ID)
		scores[hit.ID] = score
	}
	if len(ids) == 0 {
		return []*model.ScoredRecord{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	records, err := t.query(ctx, "SELECT "+recordColumns+" FROM "+t.name+" WHERE entry_id IN ("+placeholders+")", ids...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.MemoryRecord, len(records))
	for _, rec := range records {
		byID[rec.EntryID.String()] = rec
	}

	result := make([]*model.ScoredRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok := byID[id.(string)]
		if !ok {
			continue
		}
		result = append(result, &model.ScoredRecord{Record: rec, Score: scores[rec.EntryID.String()]})
	}
	return result, nil
}

func (t *Table) Count(ctx context.Context) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.opened(); err != nil {
		return 0, err
	}
	return t.count, nil
}

func (t *Table) Delete(ctx context.Context, id model.EntryID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.opened(); err != nil {
		return err
	}

	res, err := t.db.ExecContext(ctx, "DELETE FROM "+t.name+" WHERE entry_id = ?", id.String())
	if err != nil {
		return goerr.Wrap(err, "failed to delete record", goerr.V(model.EntryIDKey, id))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return goerr.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		return goerr.Wrap(model.ErrNotFound, "memory record not found", goerr.V(model.EntryIDKey, id))
	}
	t.count--

	t.updateIndex(ctx, func(ctx context.Context) error {
		return t.index.Delete(ctx, nil, nil, id.String())
	})
	return nil
}

func (t *Table) DeleteAll(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.opened(); err != nil {
		return err
	}

	if _, err := t.db.ExecContext(ctx, "DELETE FROM "+t.name); err != nil {
		return goerr.Wrap(err, "failed to delete records", goerr.V(model.TableNameKey, t.name))
	}

	col, err := newIndex(t.name)
	if err != nil {
		return err
	}
	t.index = col
	t.count = 0
	return nil
}

func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.db == nil {
		return nil
	}
	err := t.db.Close()
	t.db = nil
	t.index = nil
	if err != nil {
		return goerr.Wrap(err, "failed to close sqlite database")
	}
	return nil
}
