// Package sqlitevec provides a SQLite-backed vector driver using sqlite-vec.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/keepsake/pkg/vector"
)

// Driver implements vector.Driver using SQLite with sqlite-vec.
type Driver struct {
	db         *sql.DB
	dimensions uint
	logger     *slog.Logger
}

// Config holds configuration for the SQLite vec driver.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string

	// Dimensions is the number of dimensions for the embedding vectors.
	Dimensions uint
}

// NewDriver creates a new SQLite vector driver backed by sqlite-vec.
func NewDriver(c Config, logger *slog.Logger) (*Driver, error) {
	// enable connection to have sqlite-vec extension
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("sqlite-vec embedding dimensions cannot be 0, must be configured")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	// vec0 virtual tables use integer rowids, so string item ids map to
	// rowids through vec_items.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS vec_items (
			rowid    INTEGER PRIMARY KEY AUTOINCREMENT,
			item_id  TEXT NOT NULL UNIQUE,
			content  TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}'
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating items table: %w", err)
	}

	createVec := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(embedding float[%d])`,
		c.Dimensions,
	)
	if _, err := db.Exec(createVec); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vec0 table: %w", err)
	}

	logger.Info("sqlite-vec vector driver initialized",
		"db_path", c.DBPath,
		"dimensions", c.Dimensions,
		"vec_version", vecVersion,
	)

	return &Driver{db: db, dimensions: c.Dimensions, logger: logger}, nil
}

// serializeFloat32 converts a float32 slice to the little-endian blob
// format sqlite-vec expects.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d: must be divisible by 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// Upsert stores items, replacing existing ones with the same id.
func (d *Driver) Upsert(ctx context.Context, items []vector.Item) error {
	if err := vector.ValidateItems(items); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, it := range items {
		if uint(len(it.Vector)) != d.dimensions {
			return fmt.Errorf("%w: item %s has %d dimensions, want %d", vector.ErrInvalidItem, it.ID, len(it.Vector), d.dimensions)
		}

		meta, err := json.Marshal(nonNil(it.Metadata))
		if err != nil {
			return fmt.Errorf("encoding metadata for %s: %w", it.ID, err)
		}
		blob := serializeFloat32(it.Vector)

		var rowID int64
		err = tx.QueryRowContext(ctx, `SELECT rowid FROM vec_items WHERE item_id = ?`, it.ID).Scan(&rowID)

		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx,
				`UPDATE vec_items SET content = ?, metadata = ? WHERE rowid = ?`,
				it.Content, string(meta), rowID,
			); err != nil {
				return fmt.Errorf("updating item %s: %w", it.ID, err)
			}
			// vec0 does not support UPDATE
			if _, err := tx.ExecContext(ctx, `DELETE FROM vec_embeddings WHERE rowid = ?`, rowID); err != nil {
				return fmt.Errorf("deleting old embedding for %s: %w", it.ID, err)
			}
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx,
				`INSERT INTO vec_items(item_id, content, metadata) VALUES (?, ?, ?)`,
				it.ID, it.Content, string(meta),
			)
			if err != nil {
				return fmt.Errorf("inserting item %s: %w", it.ID, err)
			}
			if rowID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("getting rowid for %s: %w", it.ID, err)
			}
		default:
			return fmt.Errorf("checking for existing item %s: %w", it.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vec_embeddings(rowid, embedding) VALUES (?, ?)`, rowID, blob,
		); err != nil {
			return fmt.Errorf("inserting embedding for %s: %w", it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Debug("upserted items to sqlite-vec", "count", len(items))
	return nil
}

// Query uses a vec0 KNN scan when unfiltered, and a filtered distance scan
// otherwise. Scores are 1/(1+L2 distance).
func (d *Driver) Query(ctx context.Context, q vector.Query) ([]vector.Match, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var (
		query string
		args  []any
	)

	switch {
	case len(q.Filter) == 0:
		query = `
			SELECT i.item_id, i.content, i.metadata, e.embedding, e.distance
			FROM vec_embeddings e
			INNER JOIN vec_items i ON i.rowid = e.rowid
			WHERE e.embedding MATCH ? AND e.k = ?
			ORDER BY e.distance`
		args = []any{serializeFloat32(q.Vector), q.Limit()}
	default:
		where, whereArgs := filterClause(q.Filter)
		distance := "0.0"
		order := "i.rowid"
		if len(q.Vector) > 0 {
			distance = "vec_distance_l2(e.embedding, ?)"
			order = "distance"
			args = append(args, serializeFloat32(q.Vector))
		}
		query = fmt.Sprintf(`
			SELECT i.item_id, i.content, i.metadata, e.embedding, %s AS distance
			FROM vec_items i
			INNER JOIN vec_embeddings e ON e.rowid = i.rowid
			WHERE %s
			ORDER BY %s
			LIMIT ?`, distance, where, order)
		args = append(args, whereArgs...)
		args = append(args, q.Limit())
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	matches := make([]vector.Match, 0)
	for rows.Next() {
		var (
			m        vector.Match
			meta     string
			blob     []byte
			distance float64
		)
		if err := rows.Scan(&m.ID, &m.Content, &meta, &blob, &distance); err != nil {
			return nil, fmt.Errorf("scanning query result: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", m.ID, err)
		}
		m.Vector, _ = deserializeFloat32(blob)
		if len(q.Vector) > 0 {
			m.Score = float32(1.0 / (1.0 + distance))
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query results: %w", err)
	}

	d.logger.Debug("queried sqlite-vec", "results", len(matches))
	return matches, nil
}

// Get retrieves items by id.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	in, args := inClause(ids)
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT i.item_id, i.content, i.metadata, e.embedding
		FROM vec_items i
		INNER JOIN vec_embeddings e ON e.rowid = i.rowid
		WHERE i.item_id IN (%s)
		ORDER BY i.rowid`, in), args...)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	items := make([]vector.Item, 0, len(ids))
	for rows.Next() {
		var (
			it   vector.Item
			meta string
			blob []byte
		)
		if err := rows.Scan(&it.ID, &it.Content, &meta, &blob); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &it.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", it.ID, err)
		}
		it.Vector, _ = deserializeFloat32(blob)
		items = append(items, it)
	}
	return items, rows.Err()
}

// Delete removes items by id.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	in, args := inClause(ids)
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT rowid FROM vec_items WHERE item_id IN (%s)`, in), args...)
	if err != nil {
		return fmt.Errorf("querying rowids for deletion: %w", err)
	}
	var rowIDs []int64
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			rows.Close()
			return fmt.Errorf("scanning rowid: %w", err)
		}
		rowIDs = append(rowIDs, rowID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating rowids: %w", err)
	}

	for _, rowID := range rowIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_embeddings WHERE rowid = ?`, rowID); err != nil {
			return fmt.Errorf("deleting embedding rowid %d: %w", rowID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM vec_items WHERE item_id IN (%s)`, in,
	), args...); err != nil {
		return fmt.Errorf("deleting items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Debug("deleted items from sqlite-vec", "count", len(ids))
	return nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return d.db.Close()
}

func inClause(ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}

// filterClause renders an equality filter over the JSON metadata column
// with keys in a stable order.
func filterClause(f vector.Filter) (string, []any) {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		conds = append(conds, "json_extract(i.metadata, ?) = ?")
		args = append(args, `$."`+k+`"`, f[k])
	}
	return strings.Join(conds, " AND "), args
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

var _ vector.Driver = (*Driver)(nil)
