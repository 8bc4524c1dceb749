package modelstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"plant-backend/internal/ml"
)

const schema = `
CREATE TABLE IF NOT EXISTS generations (
	id              TEXT PRIMARY KEY,
	version         INTEGER NOT NULL UNIQUE,
	created_at      INTEGER NOT NULL,
	record_count    INTEGER NOT NULL,
	sequence_length INTEGER NOT NULL,
	forecast_loss   REAL NOT NULL,
	test_score      REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS generation_components (
	generation_id TEXT NOT NULL REFERENCES generations(id) ON DELETE CASCADE,
	kind          TEXT NOT NULL,
	data          BLOB NOT NULL,
	PRIMARY KEY (generation_id, kind)
);

CREATE TABLE IF NOT EXISTS retrain_lease (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	owner      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
`

// SQLiteStore keeps model generations in a SQLite file. A generation and all
// of its components are written in one transaction, so readers only ever see
// complete generations.
type SQLiteStore struct {
	db *sql.DB
}

// GenerationInfo is the header row of a stored generation
type GenerationInfo struct {
	ID             string
	Version        int64
	CreatedAt      time.Time
	RecordCount    int
	SequenceLength int
	ForecastLoss   float64
	TestScore      float64
}

// Open opens (creating if needed) the store at path. ":memory:" gives a
// private in-memory store.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model store: %w", err)
	}
	// one connection: sqlite serializes writers and :memory: is per-connection
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(path); err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("ModelStore: Opened %s", path)
	return s, nil
}

func (s *SQLiteStore) migrate(path string) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate model store: %w", err)
	}
	return nil
}

// PublishGeneration stores g under the next version number and sets g.Version
func (s *SQLiteStore) PublishGeneration(ctx context.Context, g *ml.Generation) error {
	parts, err := ml.EncodeGeneration(g)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin publish: %w", err)
	}
	defer tx.Rollback()

	var version int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM generations`).Scan(&version); err != nil {
		return fmt.Errorf("failed to allocate generation version: %w", err)
	}

	meta := g.Metadata
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO generations (id, version, created_at, record_count, sequence_length, forecast_loss, test_score)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, version, g.CreatedAt.UnixNano(), meta.RecordCount, meta.SequenceLength, meta.ForecastLoss, meta.TestScore,
	); err != nil {
		return fmt.Errorf("failed to insert generation %s: %w", g.ID, err)
	}

	for _, kind := range ml.ComponentKinds() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO generation_components (generation_id, kind, data) VALUES (?, ?, ?)`,
			g.ID, string(kind), parts[kind],
		); err != nil {
			return fmt.Errorf("failed to insert %s of generation %s: %w", kind, g.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit generation %s: %w", g.ID, err)
	}
	g.Version = version
	return nil
}

// LoadLatestGeneration returns the highest-versioned generation, or
// ml.ErrNoGeneration when the store is empty
func (s *SQLiteStore) LoadLatestGeneration(ctx context.Context) (*ml.Generation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, version, created_at FROM generations ORDER BY version DESC LIMIT 1`)
	return s.load(ctx, row)
}

// LoadGeneration returns one generation by id
func (s *SQLiteStore) LoadGeneration(ctx context.Context, id string) (*ml.Generation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, version, created_at FROM generations WHERE id = ?`, id)
	return s.load(ctx, row)
}

func (s *SQLiteStore) load(ctx context.Context, row *sql.Row) (*ml.Generation, error) {
	var (
		id        string
		version   int64
		createdAt int64
	)
	if err := row.Scan(&id, &version, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ml.ErrNoGeneration
		}
		return nil, fmt.Errorf("failed to read generation header: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, data FROM generation_components WHERE generation_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query components of generation %s: %w", id, err)
	}
	defer rows.Close()

	components := make(map[ml.ComponentKind][]byte)
	for rows.Next() {
		var (
			kind string
			data []byte
		)
		if err := rows.Scan(&kind, &data); err != nil {
			return nil, fmt.Errorf("failed to scan component of generation %s: %w", id, err)
		}
		components[ml.ComponentKind(kind)] = data
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read components of generation %s: %w", id, err)
	}

	return ml.DecodeGeneration(id, version, time.Unix(0, createdAt).UTC(), components)
}

// ListGenerations returns all stored generation headers, newest first
func (s *SQLiteStore) ListGenerations(ctx context.Context) ([]GenerationInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, created_at, record_count, sequence_length, forecast_loss, test_score
		FROM generations
		ORDER BY version DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	defer rows.Close()

	var out []GenerationInfo
	for rows.Next() {
		var (
			info      GenerationInfo
			createdAt int64
		)
		if err := rows.Scan(&info.ID, &info.Version, &createdAt, &info.RecordCount,
			&info.SequenceLength, &info.ForecastLoss, &info.TestScore); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		info.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep generations and returns how many were removed
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("prune must keep at least one generation, got %d", keep)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin prune: %w", err)
	}
	defer tx.Rollback()

	const stale = `SELECT id FROM generations ORDER BY version DESC LIMIT -1 OFFSET ?`
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM generation_components WHERE generation_id IN (`+stale+`)`, keep); err != nil {
		return 0, fmt.Errorf("failed to prune components: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE id IN (`+stale+`)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune generations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return int(n), nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
