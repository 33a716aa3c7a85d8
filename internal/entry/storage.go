package entry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var ErrNotFound = errors.New("entry not found")

// UpdateListener is called after an entry has been updated.
type UpdateListener func(ctx context.Context, e *Entry)

type Storage struct {
	db  *sqlx.DB
	log logr.Logger

	mu        sync.Mutex
	next      uint64
	listeners map[string]map[uint64]UpdateListener
}

type row struct {
	ID       string `db:"entry_id"`
	Title    string `db:"title"`
	UniqueID string `db:"unique_id"`
	Data     string `db:"data"`
	Options  string `db:"options"`
}

func NewStorage(log logr.Logger, dbName string) (*Storage, error) {
	db, err := sqlx.Connect("sqlite3", dbName)
	if err != nil {
		log.Error(err, "Failed to connect to database", "dbType", "sqlite3", "dbName", dbName)
		return nil, err
	}

	s := &Storage{
		db:        db,
		log:       log.WithName("EntryStorage"),
		listeners: make(map[string]map[uint64]UpdateListener),
	}
	if err := s.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) createTable() error {
	schema := `
    CREATE TABLE IF NOT EXISTS entries (
        entry_id TEXT PRIMARY KEY,
        title TEXT NOT NULL,
        unique_id TEXT,
        data TEXT NOT NULL,
        options TEXT NOT NULL
    );
`
	_, err := s.db.Exec(schema)
	if err != nil {
		s.log.Error(err, "Failed to execute create table query")
	}
	return err
}

// Close closes the database connection.
func (s *Storage) Close() {
	s.log.V(1).Info("Closing database connection")
	s.db.Close()
}

func toRow(e *Entry) (row, error) {
	data, err := json.Marshal(nonNil(e.Data))
	if err != nil {
		return row{}, err
	}
	options, err := json.Marshal(nonNil(e.Options))
	if err != nil {
		return row{}, err
	}
	return row{ID: e.ID, Title: e.Title, UniqueID: e.UniqueID, Data: string(data), Options: string(options)}, nil
}

func fromRow(r row) (*Entry, error) {
	e := &Entry{ID: r.ID, Title: r.Title, UniqueID: r.UniqueID}
	if err := json.Unmarshal([]byte(r.Data), &e.Data); err != nil {
		return nil, fmt.Errorf("entry %s data: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Options), &e.Options); err != nil {
		return nil, fmt.Errorf("entry %s options: %w", r.ID, err)
	}
	e.Data = nonNil(e.Data)
	e.Options = nonNil(e.Options)
	return e, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Create stores a new entry; the id must not exist yet.
func (s *Storage) Create(ctx context.Context, e *Entry) error {
	r, err := toRow(e)
	if err != nil {
		return err
	}
	query := `INSERT INTO entries (entry_id, title, unique_id, data, options) VALUES (:entry_id, :title, :unique_id, :data, :options)`
	if _, err := s.db.NamedExecContext(ctx, query, r); err != nil {
		s.log.Error(err, "Failed to create entry", "entry_id", e.ID)
		return err
	}
	s.log.Info("Created entry", "entry_id", e.ID, "title", e.Title)
	return nil
}

func (s *Storage) Get(ctx context.Context, id string) (*Entry, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT * FROM entries WHERE entry_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		s.log.Error(err, "Failed to get entry", "entry_id", id)
		return nil, err
	}
	return fromRow(r)
}

func (s *Storage) List(ctx context.Context) ([]*Entry, error) {
	rows := make([]row, 0)
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM entries ORDER BY entry_id`); err != nil {
		s.log.Error(err, "Failed to list entries")
		return nil, err
	}
	out := make([]*Entry, 0, len(rows))
	for _, r := range rows {
		e, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Update replaces the stored fields of e and notifies its update listeners.
func (s *Storage) Update(ctx context.Context, e *Entry) error {
	if err := s.update(ctx, e); err != nil {
		return err
	}
	s.notify(ctx, e)
	return nil
}

// UpdateQuiet replaces the stored fields of e without notifying listeners.
func (s *Storage) UpdateQuiet(ctx context.Context, e *Entry) error {
	return s.update(ctx, e)
}

func (s *Storage) update(ctx context.Context, e *Entry) error {
	r, err := toRow(e)
	if err != nil {
		return err
	}
	query := `UPDATE entries SET title = :title, unique_id = :unique_id, data = :data, options = :options WHERE entry_id = :entry_id`
	res, err := s.db.NamedExecContext(ctx, query, r)
	if err != nil {
		s.log.Error(err, "Failed to update entry", "entry_id", e.ID)
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, e.ID)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE entry_id = $1`, id)
	if err != nil {
		s.log.Error(err, "Failed to delete entry", "entry_id", id)
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.mu.Lock()
	delete(s.listeners, id)
	s.mu.Unlock()
	return nil
}

// AddUpdateListener registers fn for updates of entry id and returns the
// function removing it.
func (s *Storage) AddUpdateListener(id string, fn UpdateListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	key := s.next
	if s.listeners[id] == nil {
		s.listeners[id] = make(map[uint64]UpdateListener)
	}
	s.listeners[id][key] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners[id], key)
	}
}

func (s *Storage) notify(ctx context.Context, e *Entry) {
	s.mu.Lock()
	fns := make([]UpdateListener, 0, len(s.listeners[e.ID]))
	for _, fn := range s.listeners[e.ID] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, e)
	}
}
