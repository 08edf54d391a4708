package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ppiankov/hopwalk/internal/model"
)

// Compile-time interface checks.
var (
	_ Store  = (*SQLiteStore)(nil)
	_ Closer = (*SQLiteStore)(nil)
)

// SQLiteStore reads the items/properties/claims tables of a Wikidata5m-style database.
// database/sql checks out a pooled connection per query, so one store can serve
// many concurrent walks.
type SQLiteStore struct {
	db *sql.DB

	mu       sync.Mutex
	maxRowID int64 // cached MAX(rowid) of items, 0 until first RandomItem
}

// schema declares the tables and the lookup indexes the store reads.
// Loading data is left to external tooling.
const schema = `
CREATE TABLE IF NOT EXISTS items (
	item_id          TEXT PRIMARY KEY,
	item_label       TEXT,
	item_description TEXT,
	in_degree        INTEGER
);

CREATE TABLE IF NOT EXISTS properties (
	property_id          TEXT PRIMARY KEY,
	property_label       TEXT,
	property_description TEXT,
	property_count       INTEGER
);

CREATE TABLE IF NOT EXISTS claims (
	claim_id    INTEGER PRIMARY KEY,
	subject_id  TEXT NOT NULL,
	property_id TEXT NOT NULL,
	target_id   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_subject ON claims(subject_id);
CREATE INDEX IF NOT EXISTS idx_claims_target ON claims(target_id);
`

// itemColumns falls back to counting incoming claims when in_degree was not precomputed
const itemColumns = `item_id, item_label, item_description,
	COALESCE(in_degree, (SELECT COUNT(*) FROM claims c WHERE c.target_id = items.item_id))`

// OpenSQLiteStore opens the database at dbPath
func OpenSQLiteStore(dbPath string, maxConns int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps an existing connection pool
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// EnsureSchema creates the tables and indexes if they are missing
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *SQLiteStore) Close(context.Context) error {
	return s.db.Close()
}

// RandomItem draws a rowid in [1, MAX(rowid)] using r and seeks to the first
// item at or after it, so a draw costs one index lookup. Items are uniform
// when rowids are dense, as they are after a bulk load; a gap left by deleted
// rows shifts its share onto the next item.
func (s *SQLiteStore) RandomItem(ctx context.Context, r *rand.Rand) (model.Item, error) {
	maxID, err := s.maxItemRowID(ctx)
	if err != nil {
		return model.Item{}, err
	}
	if maxID == 0 {
		return model.Item{}, fmt.Errorf("random item: store is empty: %w", ErrNotFound)
	}

	rowID := 1 + int64(pick(r, int(maxID)))
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE rowid >= ? ORDER BY rowid LIMIT 1`, rowID)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Item{}, fmt.Errorf("random item at rowid %d: %w", rowID, ErrNotFound)
	}
	if err != nil {
		return model.Item{}, fmt.Errorf("random item: %w", err)
	}
	return item, nil
}

func (s *SQLiteStore) maxItemRowID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxRowID > 0 {
		return s.maxRowID, nil
	}
	var maxID sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(rowid) FROM items`).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("max item rowid: %w", err)
	}
	s.maxRowID = maxID.Int64
	return s.maxRowID, nil
}

// GetItem returns an item by id
func (s *SQLiteStore) GetItem(ctx context.Context, id string) (model.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE item_id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Item{}, fmt.Errorf("item %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Item{}, fmt.Errorf("get item %q: %w", id, err)
	}
	return item, nil
}

// GetProperty returns a property by id
func (s *SQLiteStore) GetProperty(ctx context.Context, id string) (model.Property, error) {
	var (
		prop        model.Property
		label, desc sql.NullString
		count       sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT property_id, property_label, property_description, property_count
		   FROM properties WHERE property_id = ?`, id).
		Scan(&prop.ID, &label, &desc, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Property{}, fmt.Errorf("property %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Property{}, fmt.Errorf("get property %q: %w", id, err)
	}

	prop.Label = label.String
	prop.Description = desc.String
	prop.Count = int(count.Int64)
	return prop, nil
}

// OutgoingClaims returns the claims whose subject is subjectID
func (s *SQLiteStore) OutgoingClaims(ctx context.Context, subjectID string) ([]model.Claim, error) {
	claims, err := s.queryClaims(ctx,
		`SELECT claim_id, subject_id, property_id, target_id FROM claims
		  WHERE subject_id = ? ORDER BY claim_id`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("outgoing claims of %q: %w", subjectID, err)
	}
	return claims, nil
}

func (s *SQLiteStore) queryClaims(ctx context.Context, query string, arg string) ([]model.Claim, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	claims := []model.Claim{}
	for rows.Next() {
		var c model.Claim
		if err := rows.Scan(&c.ID, &c.SubjectID, &c.PropertyID, &c.TargetID); err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func scanItem(row *sql.Row) (model.Item, error) {
	var (
		item        model.Item
		label, desc sql.NullString
		inDegree    sql.NullInt64
	)
	if err := row.Scan(&item.ID, &label, &desc, &inDegree); err != nil {
		return model.Item{}, err
	}
	item.Label = label.String
	item.Description = desc.String
	item.InDegree = int(inDegree.Int64)
	return item, nil
}
