package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/todoexport/api/internal/model"
)

// dialect captures what differs between the relational backends.
type dialect struct {
	name   string
	schema string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
}

// SQLStore is the relational todo store. Every call acquires a connection
// from the pool and releases it before returning.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

var _ Store = (*SQLStore)(nil)

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", d.name, err)
	}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize %s schema: %w", d.name, err)
	}
	return &SQLStore{db: db, dialect: d, now: time.Now}, nil
}

// rebind rewrites ? placeholders for dialects that number them.
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const todoColumns = "id, text, done, sort_order, created_at"

type scanner interface {
	Scan(dest ...any) error
}

// timeLayouts are the text forms SQLite returns when a column has no
// declared type, as happens with RETURNING.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
}

// dbTime scans a timestamp that the driver may hand back as text.
type dbTime struct {
	t *time.Time
}

func (d dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*d.t = v
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	case nil:
		*d.t = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (d dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*d.t = t
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func scanTodo(row scanner) (*model.Todo, error) {
	var t model.Todo
	if err := row.Scan(&t.ID, &t.Text, &t.Done, &t.Position, dbTime{&t.CreatedAt}); err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes q match literally inside a LIKE pattern.
func escapeLike(q string) string {
	return likeEscaper.Replace(q)
}

func (s *SQLStore) List(ctx context.Context, filter ListFilter) ([]model.Todo, error) {
	query := "SELECT " + todoColumns + " FROM todos WHERE 1=1"
	var args []any
	if filter.Done != nil {
		query += " AND done = ?"
		args = append(args, *filter.Done)
	}
	if filter.Query != "" {
		query += ` AND LOWER(text) LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(strings.ToLower(filter.Query))+"%")
	}
	query += " ORDER BY sort_order, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	defer rows.Close()

	todos := make([]model.Todo, 0)
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		todos = append(todos, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	return todos, nil
}

func (s *SQLStore) Add(ctx context.Context, text string) (*model.Todo, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO todos (text, done, sort_order, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(sort_order), -1) + 1 FROM todos), ?)
		RETURNING `+todoColumns),
		text, false, s.now().UTC(),
	)
	todo, err := scanTodo(row)
	if err != nil {
		return nil, fmt.Errorf("failed to add todo: %w", err)
	}
	return todo, nil
}

func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM todos WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete todo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete todo: %w", err)
	}
	if n == 0 {
		return ErrTodoNotFound
	}
	return nil
}

func (s *SQLStore) Toggle(ctx context.Context, id int64) (*model.Todo, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		"UPDATE todos SET done = NOT done WHERE id = ? RETURNING "+todoColumns), id)
	todo, err := scanTodo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTodoNotFound
		}
		return nil, fmt.Errorf("failed to toggle todo: %w", err)
	}
	return todo, nil
}

func (s *SQLStore) Reorder(ctx context.Context, ids []int64) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
	}()

	rows, err := tx.QueryContext(ctx, "SELECT id FROM todos ORDER BY sort_order, id")
	if err != nil {
		return fmt.Errorf("failed to load order: %w", err)
	}
	var current []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to load order: %w", err)
		}
		current = append(current, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load order: %w", err)
	}

	update := s.rebind("UPDATE todos SET sort_order = ? WHERE id = ?")
	for pos, id := range newOrder(current, ids) {
		if _, err := tx.ExecContext(ctx, update, pos, id); err != nil {
			return fmt.Errorf("failed to reorder todo %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
