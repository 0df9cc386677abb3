package production

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/comalice/valuechange"
	"github.com/comalice/valuechange/internal/core"
	"github.com/comalice/valuechange/internal/production/migrations"
)

const migrationTable = "schema_migrations"

// SQLiteStore persists contract snapshots and their emitted events in SQLite.
// A snapshot and the events of the same invocation are written in one transaction.
//
// Scores and block heights are stored as the int64 bit pattern of the uint64
// value so the full range survives.
type SQLiteStore struct {
	sqlDB *sql.DB
}

var (
	_ core.Persister = (*SQLiteStore)(nil)
	_ core.Committer = (*SQLiteStore)(nil)
)

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens (or creates) the database at path and applies embedded migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; the host already serializes invocations.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, snapshot core.Snapshot) error {
	return s.Commit(ctx, snapshot, nil)
}

// Commit upserts the snapshot and appends records to the event journal atomically.
func (s *SQLiteStore) Commit(ctx context.Context, snapshot core.Snapshot, records []core.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(snapshot.ContractID) == "" {
		return fmt.Errorf("contract id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO contracts (
		   contract_id,
		   value,
		   score,
		   block,
		   instantiated_at,
		   updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(contract_id) DO UPDATE SET
		   value = excluded.value,
		   score = excluded.score,
		   block = excluded.block,
		   updated_at = excluded.updated_at`,
		snapshot.ContractID,
		snapshot.Storage.Value,
		int64(snapshot.Storage.Score),
		int64(snapshot.Block),
		toMillis(snapshot.InstantiatedAt),
		toMillis(snapshot.UpdatedAt),
	); err != nil {
		return fmt.Errorf("upsert contract %q: %w", snapshot.ContractID, err)
	}

	for _, rec := range records {
		payload, err := json.Marshal(rec.Event)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", rec.Topic(), err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO events (contract_id, message, topic, block, payload, emitted_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ContractID,
			rec.Message,
			rec.Topic(),
			int64(rec.Block),
			string(payload),
			toMillis(rec.Timestamp),
		); err != nil {
			return fmt.Errorf("insert %s event: %w", rec.Topic(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, contractID string) (core.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return core.Snapshot{}, err
	}
	if s == nil || s.sqlDB == nil {
		return core.Snapshot{}, fmt.Errorf("storage is not configured")
	}

	var (
		value          bool
		score, block   int64
		instantiatedAt int64
		updatedAt      int64
	)
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT value, score, block, instantiated_at, updated_at
		 FROM contracts WHERE contract_id = ?`,
		contractID,
	).Scan(&value, &score, &block, &instantiatedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Snapshot{}, fmt.Errorf("contract %q: %w", contractID, core.ErrNotFound)
	}
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("load contract %q: %w", contractID, err)
	}

	return core.Snapshot{
		ContractID:     contractID,
		Storage:        valuechange.Storage{Value: value, Score: uint64(score)},
		Block:          uint64(block),
		InstantiatedAt: fromMillis(instantiatedAt),
		UpdatedAt:      fromMillis(updatedAt),
	}, nil
}

// Events returns the journal for contractID in emission order.
func (s *SQLiteStore) Events(ctx context.Context, contractID string) ([]core.Record, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT message, topic, block, payload, emitted_at
		 FROM events WHERE contract_id = ? ORDER BY seq`,
		contractID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []core.Record
	for rows.Next() {
		var (
			message, topic, payload string
			block, emittedAt        int64
		)
		if err := rows.Scan(&message, &topic, &block, &payload, &emittedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event, err := valuechange.DecodeEvent(topic, []byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, core.Record{
			ContractID: contractID,
			Message:    message,
			Block:      uint64(block),
			Event:      event,
			Timestamp:  fromMillis(emittedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// applyMigrations executes embedded *.sql files in name order, at most once each.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`, migrationTable)
	if _, err := sqlDB.Exec(createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var applied int
		if err := sqlDB.QueryRow(
			fmt.Sprintf(`SELECT COUNT(1) FROM %s WHERE name = ?`, migrationTable), file,
		).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied > 0 {
			continue
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(
			fmt.Sprintf(`INSERT INTO %s (name, applied_at) VALUES (?, ?)`, migrationTable),
			file, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}
