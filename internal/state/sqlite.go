package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// insertChunk keeps multi-row inserts well under SQLite's bound variable limit.
const insertChunk = 300

type sqliteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

func openSQLite(cfg Config, log zerolog.Logger) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite state: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds())); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	version, dirty, err := runMigrations(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug().Str("path", cfg.Path).Uint("schema_version", version).Bool("dirty", dirty).Msg("SQLite state opened")

	return &sqliteStore{db: db, log: log}, nil
}

// runMigrations applies all pending migrations and returns version info.
func runMigrations(db *sql.DB) (uint, bool, error) {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return 0, false, fmt.Errorf("failed to create sqlite migration driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, false, fmt.Errorf("failed to create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, false, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context, source string, mode Mode) (SourceState, error) {
	empty := NewSourceState(source, mode)

	st, found, err := s.load(ctx, source)
	if err != nil {
		return empty, err
	}
	if !found {
		return empty, nil
	}
	if err := checkLoaded(st, source, mode); err != nil {
		return empty, err
	}
	return st, nil
}

func (s *sqliteStore) load(ctx context.Context, source string) (SourceState, bool, error) {
	query, args, err := sq.Select("mode", "cursor_id", "updated_at").
		From("source_state").
		Where(sq.Eq{"source_id": source}).
		ToSql()
	if err != nil {
		return SourceState{}, false, fmt.Errorf("build state query: %w", err)
	}

	var (
		mode      string
		cursor    string
		updatedAt string
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&mode, &cursor, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SourceState{}, false, nil
	}
	if err != nil {
		return SourceState{}, false, fmt.Errorf("failed to query state for %s: %w", source, err)
	}

	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return SourceState{}, false, fmt.Errorf("%w: %s updated_at: %w", ErrCorruptState, source, err)
	}

	ids, err := s.knownIDs(ctx, source)
	if err != nil {
		return SourceState{}, false, err
	}

	return SourceState{
		Source:    source,
		Mode:      Mode(mode),
		KnownIDs:  ids,
		Cursor:    cursor,
		UpdatedAt: ts,
	}, true, nil
}

func (s *sqliteStore) knownIDs(ctx context.Context, source string) ([]string, error) {
	query, args, err := sq.Select("item_id").
		From("known_ids").
		Where(sq.Eq{"source_id": source}).
		OrderBy("position").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build known ids query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query known ids for %s: %w", source, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan known id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating known ids: %w", err)
	}

	return ids, nil
}

func (s *sqliteStore) Save(ctx context.Context, st SourceState) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := s.save(ctx, st); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	s.log.Debug().Str("source", st.Source).Int("known_ids", len(st.KnownIDs)).Msg("State saved")
	return nil
}

func (s *sqliteStore) save(ctx context.Context, st SourceState) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	upsert, args, err := sq.Insert("source_state").
		Columns("source_id", "mode", "cursor_id", "updated_at").
		Values(st.Source, string(st.Mode), st.Cursor, st.UpdatedAt.UTC().Format(time.RFC3339Nano)).
		Suffix("ON CONFLICT(source_id) DO UPDATE SET mode = excluded.mode, cursor_id = excluded.cursor_id, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err = tx.ExecContext(ctx, upsert, args...); err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}

	del, args, err := sq.Delete("known_ids").Where(sq.Eq{"source_id": st.Source}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err = tx.ExecContext(ctx, del, args...); err != nil {
		return fmt.Errorf("clear known ids: %w", err)
	}

	for start := 0; start < len(st.KnownIDs); start += insertChunk {
		end := min(start+insertChunk, len(st.KnownIDs))

		insert := sq.Insert("known_ids").Columns("source_id", "item_id", "position")
		for i := start; i < end; i++ {
			insert = insert.Values(st.Source, st.KnownIDs[i], i)
		}

		query, args, buildErr := insert.ToSql()
		if buildErr != nil {
			err = fmt.Errorf("build insert: %w", buildErr)
			return err
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert known ids: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *sqliteStore) All(ctx context.Context) ([]SourceState, error) {
	query, args, err := sq.Select("source_id").From("source_state").OrderBy("source_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sources query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	var sources []string
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating sources: %w", err)
	}
	_ = rows.Close()

	out := make([]SourceState, 0, len(sources))
	for _, source := range sources {
		st, _, err := s.load(ctx, source)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
