// Package sqlitestore implements storage.IntermediaryStorage on top of
// modernc.org/sqlite in WAL mode, adapted from the teacher's embedded-
// migration database setup (internal/db/sqlite.go) to the single
// swaps table the swap engine needs (Put upserts a row, Delete removes it).
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/atomicbridge/swapserver/internal/models"
	"github.com/atomicbridge/swapserver/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a *sql.DB connection opened in WAL mode, implementing
// storage.IntermediaryStorage.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates (if needed) and opens a SQLite database at path, enabling
// WAL mode and a busy timeout, then runs pending migrations.
func Open(path string, busyTimeoutMs int) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", path, busyTimeoutMs)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.runMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	slog.Info("closing swap store", "path", s.path)
	return s.conn.Close()
}

func (s *Store) runMigrations() error {
	if _, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d", &version); err != nil {
			slog.Warn("skipping migration with unparseable version", "file", entry.Name())
			continue
		}

		var count int
		if err := s.conn.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("check migration status for version %d: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
		slog.Info("migration applied", "version", version, "file", entry.Name())
	}
	return nil
}

func (s *Store) Put(ctx context.Context, r storage.Record) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO swaps (handler_kind, chain_identifier, payment_hash, sequence_hex, has_sequence, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (chain_identifier, payment_hash, sequence_hex) DO UPDATE SET
			handler_kind = excluded.handler_kind,
			has_sequence = excluded.has_sequence,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`,
		r.HandlerKind,
		string(r.Identity.ChainIdentifier),
		r.Identity.PaymentHash.String(),
		sequenceKey(r.Identity),
		boolToInt(r.Identity.HasSequence),
		r.Payload,
	)
	if err != nil {
		return fmt.Errorf("put swap %s: %w", r.Identity, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id models.SwapIdentity) (storage.Record, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT handler_kind, has_sequence, payload FROM swaps
		WHERE chain_identifier = ? AND payment_hash = ? AND sequence_hex = ?
	`, string(id.ChainIdentifier), id.PaymentHash.String(), sequenceKey(id))

	var handlerKind string
	var hasSeq int
	var payload []byte
	if err := row.Scan(&handlerKind, &hasSeq, &payload); err != nil {
		if err == sql.ErrNoRows {
			return storage.Record{}, storage.ErrNotFound
		}
		return storage.Record{}, fmt.Errorf("get swap %s: %w", id, err)
	}
	return storage.Record{Identity: id, HandlerKind: handlerKind, Payload: payload}, nil
}

func (s *Store) Delete(ctx context.Context, id models.SwapIdentity) error {
	_, err := s.conn.ExecContext(ctx, `
		DELETE FROM swaps WHERE chain_identifier = ? AND payment_hash = ? AND sequence_hex = ?
	`, string(id.ChainIdentifier), id.PaymentHash.String(), sequenceKey(id))
	if err != nil {
		return fmt.Errorf("delete swap %s: %w", id, err)
	}
	return nil
}

func (s *Store) LoadAll(ctx context.Context, handlerKind string) ([]storage.Record, error) {
	return s.Query(ctx, handlerKind, nil)
}

func (s *Store) Query(ctx context.Context, handlerKind string, pred storage.Predicate) ([]storage.Record, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT chain_identifier, payment_hash, sequence_hex, has_sequence, payload FROM swaps
		WHERE handler_kind = ?
	`, handlerKind)
	if err != nil {
		return nil, fmt.Errorf("query swaps for %s: %w", handlerKind, err)
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		var chainID, hashHex, seqHex string
		var hasSeq int
		var payload []byte
		if err := rows.Scan(&chainID, &hashHex, &seqHex, &hasSeq, &payload); err != nil {
			return nil, fmt.Errorf("scan swap row: %w", err)
		}

		hash, err := models.ParsePaymentHash(hashHex)
		if err != nil {
			return nil, fmt.Errorf("parse stored payment hash %q: %w", hashHex, err)
		}
		seq, err := parseSequenceHex(seqHex)
		if err != nil {
			return nil, fmt.Errorf("parse stored sequence %q: %w", seqHex, err)
		}

		r := storage.Record{
			Identity: models.SwapIdentity{
				ChainIdentifier: models.ChainIdentifier(chainID),
				PaymentHash:     hash,
				Sequence:        seq,
				HasSequence:     hasSeq != 0,
			},
			HandlerKind: handlerKind,
			Payload:     payload,
		}
		if pred == nil || pred(r) {
			out = append(out, r)
		}
	}
	return out, rows.Err()
}

func sequenceKey(id models.SwapIdentity) string {
	if !id.HasSequence {
		return "-"
	}
	return id.Sequence.SequenceHex()
}

func parseSequenceHex(s string) (models.Sequence, error) {
	if s == "-" {
		return 0, nil
	}
	var v uint64
	if _, err := fmt.Sscanf(s, "%x", &v); err != nil {
		return 0, err
	}
	return models.Sequence(v), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
