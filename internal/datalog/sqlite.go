package datalog

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	_ "github.com/mattn/go-sqlite3"
)

// SQLite stores rows in a "samples" table, one column per field plus
// time_ms. Column types follow the first row's values.
type SQLite struct {
	path string

	mu     sync.Mutex
	fields fieldSet
	db     *sql.DB
	insert *sql.Stmt
	rows   int
}

// CreateSQLite creates the next free DATAnnn.DB in dir.
func CreateSQLite(dir string) (*SQLite, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("datalog: mkdir %s: %w", dir, err)
	}
	name, err := nextName(dir, "DB")
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("datalog: open %s: %w", path, err)
	}
	// The sqlite driver does not allow concurrent writers on one file.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datalog: open %s: %w", path, err)
	}
	log.Printf("datalog: writing %s", path)
	return &SQLite{path: path, db: db}, nil
}

func (s *SQLite) Path() string { return s.path }

func (s *SQLite) AddField(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields.add(name)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// WriteHeader creates the table. Columns are declared without a type so
// SQLite keeps whatever affinity each value has.
func (s *SQLite) WriteHeader() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrNotOpen
	}
	s.fields.frozen = true

	cols := []string{"time_ms INTEGER NOT NULL"}
	names := []string{"time_ms"}
	for _, n := range s.fields.names {
		cols = append(cols, quoteIdent(n))
		names = append(names, quoteIdent(n))
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS samples (%s)", strings.Join(cols, ", "))
	if _, err := s.db.Exec(create); err != nil {
		return fmt.Errorf("datalog: create table: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	stmt, err := s.db.Prepare(fmt.Sprintf("INSERT INTO samples (%s) VALUES (%s)", strings.Join(names, ","), placeholders))
	if err != nil {
		return fmt.Errorf("datalog: prepare insert: %w", err)
	}
	s.insert = stmt
	return nil
}

func (s *SQLite) WriteRow(ms uint32, values ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil || s.insert == nil {
		return ErrNotOpen
	}
	if err := s.fields.checkRow(values); err != nil {
		return err
	}
	args := make([]any, 0, len(values)+1)
	args = append(args, int64(ms))
	for _, v := range values {
		args = append(args, sqlValue(v))
	}
	if _, err := s.insert.Exec(args...); err != nil {
		return fmt.Errorf("datalog: insert: %w", err)
	}
	s.rows++
	return nil
}

// sqlValue maps values onto types database/sql accepts without a custom
// converter.
func sqlValue(v any) any {
	switch x := v.(type) {
	case nil, bool, int64, float64, string, []byte:
		return x
	case float32:
		return float64(x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	case fmt.Stringer:
		return x.String()
	default:
		return FormatValue(v)
	}
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	var errs []error
	if s.insert != nil {
		errs = append(errs, s.insert.Close())
		s.insert = nil
	}
	errs = append(errs, s.db.Close())
	s.db = nil

	var size int64
	if st, err := os.Stat(s.path); err == nil {
		size = st.Size()
	}
	log.Printf("datalog: closed %s (%d rows, %s)", s.path, s.rows, humanize.Bytes(uint64(size)))
	return errors.Join(errs...)
}
