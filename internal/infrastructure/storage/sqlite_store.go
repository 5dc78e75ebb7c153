package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/kerim-dauren/attribution-core/internal/domain"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// goose keeps its settings in package globals.
var migrateMu sync.Mutex

// SQLStore keeps every record of a namespace in one SQLite database. Each
// write is a single statement, so readers never see a partial blob.
type SQLStore struct {
	db *sqlx.DB
}

// OpenSQLStore opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLStore(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite", fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, fmt.Errorf("connecting to db : %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLStore{db: db}, nil
}

func migrate(db *sqlx.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		return fmt.Errorf("setting dialect for migrations : %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return fmt.Errorf("applying migration : %w", err)
	}

	return nil
}

func (s *SQLStore) Load(name string) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidName, name)
	}

	var data []byte
	err := s.db.Get(&data, `SELECT data FROM records WHERE name = ?`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, &domain.PersistenceError{Op: "load", Name: name, Err: err}
	}

	return data, nil
}

func (s *SQLStore) Save(name string, data []byte) error {
	if name == "" {
		return fmt.Errorf("%w: %q", domain.ErrInvalidName, name)
	}
	if data == nil {
		data = []byte{}
	}

	query := `INSERT INTO records (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
	if _, err := s.db.Exec(query, name, data, time.Now().UnixMilli()); err != nil {
		return &domain.PersistenceError{Op: "save", Name: name, Err: err}
	}

	return nil
}

func (s *SQLStore) Remove(name string) error {
	if name == "" {
		return fmt.Errorf("%w: %q", domain.ErrInvalidName, name)
	}

	if _, err := s.db.Exec(`DELETE FROM records WHERE name = ?`, name); err != nil {
		return &domain.PersistenceError{Op: "remove", Name: name, Err: err}
	}

	return nil
}

func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing store : %w", err)
	}
	return nil
}
