package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const notifyChannel = "docstore_changes"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	path text PRIMARY KEY,
	doc  jsonb NOT NULL
);
CREATE TABLE IF NOT EXISTS collection_items (
	parent text NOT NULL,
	id     text NOT NULL,
	doc    jsonb NOT NULL,
	PRIMARY KEY (parent, id)
);
`

// Postgres implements Store on PostgreSQL: jsonb documents keyed by
// path, plus a collection_items table for message collections. Watches
// ride on LISTEN/NOTIFY with the changed path as payload; one dedicated
// connection listens and fans out to registered watchers. NOTIFY reaches
// that connection for this process's own writes too, so the self-echo
// behavior matches the Redis backend.
type Postgres struct {
	db       *sql.DB
	listener *pgx.Conn
	stop     context.CancelFunc

	mu       sync.Mutex
	watchers map[string]map[int]func(json.RawMessage)
	nextID   int
}

// OpenPostgres connects to databaseURL, ensures the schema, and starts
// the notification listener.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	listener, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open listener: %w", err)
	}
	if _, err := listener.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		_ = listener.Close(ctx)
		_ = db.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	listenCtx, stop := context.WithCancel(context.Background())
	s := &Postgres{
		db:       db,
		listener: listener,
		stop:     stop,
		watchers: map[string]map[int]func(json.RawMessage){},
	}
	go s.listen(listenCtx)
	return s, nil
}

func (s *Postgres) listen(ctx context.Context) {
	for {
		notification, err := s.listener.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("docstore: notification listener stopped: %v", err)
			}
			return
		}
		s.dispatch(ctx, notification.Payload)
	}
}

func (s *Postgres) dispatch(ctx context.Context, path string) {
	s.mu.Lock()
	fns := make([]func(json.RawMessage), 0, len(s.watchers[path]))
	for _, fn := range s.watchers[path] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	if len(fns) == 0 {
		return
	}

	// Watches deliver the document's full current value. Collection
	// paths have no document row, so their watchers get an empty payload
	// and re-list.
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM documents WHERE path = $1`, path).Scan(&body)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		log.Printf("docstore: fetch %s for watch: %v", path, err)
		return
	}
	for _, fn := range fns {
		fn(json.RawMessage(body))
	}
}

func (s *Postgres) notify(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, path); err != nil {
		return fmt.Errorf("notify %s: %w", path, err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, path string, dst any) (bool, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM documents WHERE path = $1`, path).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", path, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func (s *Postgres) Set(ctx context.Context, path string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (path, doc) VALUES ($1, $2::jsonb)
		ON CONFLICT (path) DO UPDATE SET doc = EXCLUDED.doc
	`, path, body)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return s.notify(ctx, path)
}

func (s *Postgres) Update(ctx context.Context, path string, fields map[string]any) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (path, doc) VALUES ($1, $2::jsonb)
		ON CONFLICT (path) DO UPDATE SET doc = documents.doc || EXCLUDED.doc
	`, path, body)
	if err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	return s.notify(ctx, path)
}

func (s *Postgres) Delete(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = $1`, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return s.notify(ctx, path)
}

func (s *Postgres) Push(ctx context.Context, path, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", path, id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collection_items (parent, id, doc) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (parent, id) DO UPDATE SET doc = EXCLUDED.doc
	`, path, id, body)
	if err != nil {
		return fmt.Errorf("push %s/%s: %w", path, id, err)
	}
	return s.notify(ctx, path)
}

func (s *Postgres) List(ctx context.Context, path string) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM collection_items WHERE parent = $1 ORDER BY id`, path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	defer rows.Close()

	var docs []json.RawMessage
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", path, err)
		}
		docs = append(docs, json.RawMessage(body))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	return docs, nil
}

func (s *Postgres) DeleteChild(ctx context.Context, path, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM collection_items WHERE parent = $1 AND id = $2`, path, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", path, id, err)
	}
	return s.notify(ctx, path)
}

func (s *Postgres) Watch(ctx context.Context, path string, fn func(json.RawMessage)) (CancelFunc, error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.watchers[path] == nil {
		s.watchers[path] = map[int]func(json.RawMessage){}
	}
	s.watchers[path][id] = fn
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers[path], id)
			if len(s.watchers[path]) == 0 {
				delete(s.watchers, path)
			}
			s.mu.Unlock()
		})
	}
	return cancel, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Postgres) Close() error {
	s.stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.listener.Close(ctx)
	return s.db.Close()
}
