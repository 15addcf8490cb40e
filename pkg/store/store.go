// Package store persists per-actor host state: each actor's component
// catalogue and efficiency levels.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/mmspellbook/spellbook/pkg/catalogue"
	"github.com/mmspellbook/spellbook/pkg/efficiency"
	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/types"
)

var log = commonlog.GetLogger("spellbook.store")

// ErrNotFound is returned when an actor has no stored catalogue.
var ErrNotFound = errors.New("store: not found")

// Store is a SQLite database of actors. It is safe for concurrent use;
// writes are serialized by the single connection.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debugf("opened %s", path)
	return &Store{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS catalogues (
			actor TEXT PRIMARY KEY,
			table_digest INTEGER NOT NULL,
			doc BLOB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS efficiency (
			actor TEXT NOT NULL,
			op TEXT NOT NULL,
			level REAL NOT NULL,
			PRIMARY KEY (actor, op)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCatalogue replaces the stored catalogue of actor.
func (s *Store) SaveCatalogue(ctx context.Context, actor string, c *catalogue.Catalogue) error {
	doc, err := c.EncodeCBOR()
	if err != nil {
		return fmt.Errorf("encode catalogue for %s: %w", actor, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO catalogues(actor, table_digest, doc) VALUES(?, ?, ?)
		 ON CONFLICT(actor) DO UPDATE SET table_digest = excluded.table_digest, doc = excluded.doc`,
		actor, int64(c.Table().Digest()), doc)
	if err != nil {
		return fmt.Errorf("save catalogue for %s: %w", actor, err)
	}
	return nil
}

// LoadCatalogue reads the catalogue of actor, resolving it against table.
// A catalogue saved under a different operation table is a DecodeError.
func (s *Store) LoadCatalogue(ctx context.Context, actor string, table *opcode.Table) (*catalogue.Catalogue, error) {
	if table == nil {
		table = opcode.Default()
	}
	var (
		digest int64
		doc    []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT table_digest, doc FROM catalogues WHERE actor = ?`, actor).Scan(&digest, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalogue for %s: %w", actor, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if uint64(digest) != table.Digest() {
		return nil, types.Errorf(types.ErrDecode, "catalogue for %s was saved under table %016x, have %016x", actor, uint64(digest), table.Digest())
	}
	return catalogue.DecodeCBOR(doc, table)
}

// Efficiency returns the recorded levels of actor. Operations never
// practised are absent and read as efficiency.DefaultLevel.
func (s *Store) Efficiency(ctx context.Context, actor string) (efficiency.Table, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT op, level FROM efficiency WHERE actor = ?`, actor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	t := efficiency.Table{}
	for rows.Next() {
		var (
			op    string
			level float64
		)
		if err := rows.Scan(&op, &level); err != nil {
			return nil, err
		}
		t[op] = level
	}
	return t, rows.Err()
}

// SetLevel records level for one operation of actor.
func (s *Store) SetLevel(ctx context.Context, actor, op string, level float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO efficiency(actor, op, level) VALUES(?, ?, ?)
		 ON CONFLICT(actor, op) DO UPDATE SET level = excluded.level`,
		actor, op, level)
	return err
}

// ApplyDeltas adds the efficiency increases reported by a run to actor's
// levels in one transaction. Unrecorded operations start at
// efficiency.DefaultLevel.
func (s *Store) ApplyDeltas(ctx context.Context, actor string, deltas efficiency.Deltas) (err error) {
	if len(deltas) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO efficiency(actor, op, level) VALUES(?, ?, ?)
		 ON CONFLICT(actor, op) DO UPDATE SET level = level + ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	// fixed order keeps the transaction deterministic
	ops := make([]string, 0, len(deltas))
	for op := range deltas {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		d := deltas[op]
		if _, err = stmt.ExecContext(ctx, actor, op, efficiency.DefaultLevel+d, d); err != nil {
			return fmt.Errorf("apply %s delta for %s: %w", op, actor, err)
		}
	}
	return tx.Commit()
}

// Actors lists every actor with a stored catalogue or efficiency row,
// sorted.
func (s *Store) Actors(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT actor FROM catalogues UNION SELECT actor FROM efficiency ORDER BY actor`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Forget deletes everything stored for actor.
func (s *Store) Forget(ctx context.Context, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, q := range []string{
		`DELETE FROM catalogues WHERE actor = ?`,
		`DELETE FROM efficiency WHERE actor = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, actor); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
