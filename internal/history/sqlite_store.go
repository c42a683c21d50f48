package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var initSchemaSQL string

const (
	insertRecordSQL = `
INSERT INTO activity_records (id, recorded_at, result)
VALUES (?, ?, ?)`

	selectRecordsSQL = `
SELECT
    recorded_at,
    result
FROM activity_records
ORDER BY seq`
)

// SQLiteStore keeps one row per record
type SQLiteStore struct {
	dbPath string

	mu     sync.Mutex
	db     *sql.DB
	dbOnce sync.Once
	dbErr  error
}

func NewSQLiteStore(dbPath string) *SQLiteStore {
	return &SQLiteStore{dbPath: dbPath}
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.dbErr = fmt.Errorf("opening history database: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			s.dbErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.db = db
	})

	return s.db, s.dbErr
}

func (s *SQLiteStore) Append(ctx context.Context, r Record) (err error) {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stmt, err := db.PrepareContext(ctx, insertRecordSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if _, err = stmt.ExecContext(ctx, uuid.NewString(), r.Timestamp.Format(TimestampLayout), r.Result); err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadAll(ctx context.Context) (records []Record, err error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, selectRecordsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var recordedAt, result string
		if err = rows.Scan(&recordedAt, &result); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		ts, perr := time.ParseInLocation(TimestampLayout, recordedAt, time.Local)
		if perr != nil {
			return nil, fmt.Errorf("parsing record timestamp '%s': %w", recordedAt, perr)
		}
		records = append(records, Record{Timestamp: ts, Result: result})
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
