// Package chromem provides an embedded vector driver on chromem-go,
// in memory or persisted to a directory.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/philippgille/chromem-go"

	"github.com/papercomputeco/keepsake/pkg/vector"
)

const (
	// DefaultCollectionName is the collection holding keepsake turns.
	DefaultCollectionName = "keepsake"
)

var errNoEmbedder = errors.New("chromem driver stores precomputed embeddings only")

// Config holds configuration for the chromem driver.
type Config struct {
	// Path persists the database to a directory. Empty keeps it in memory.
	Path string

	// Compress gzips persisted files.
	Compress bool

	CollectionName string

	// Dimensions of stored vectors. Required: filter-only queries search
	// the collection with a vector of this length.
	Dimensions uint
}

// Driver implements vector.Driver on a chromem collection.
type Driver struct {
	db         *chromem.DB
	collection *chromem.Collection
	uniform    []float32
	logger     *slog.Logger
}

// NewDriver opens or creates the collection.
func NewDriver(c Config, logger *slog.Logger) (*Driver, error) {
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("chromem embedding dimensions cannot be 0, must be configured")
	}
	if c.CollectionName == "" {
		c.CollectionName = DefaultCollectionName
	}

	db := chromem.NewDB()
	if c.Path != "" {
		var err error
		db, err = chromem.NewPersistentDB(c.Path, c.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem database: %w", err)
		}
	}

	embed := func(context.Context, string) ([]float32, error) { return nil, errNoEmbedder }
	col, err := db.GetOrCreateCollection(c.CollectionName, map[string]string{
		"dimensions": strconv.FormatUint(uint64(c.Dimensions), 10),
	}, embed)
	if err != nil {
		return nil, fmt.Errorf("getting or creating collection %q: %w", c.CollectionName, err)
	}

	uniform := make([]float32, c.Dimensions)
	for i := range uniform {
		uniform[i] = float32(1 / math.Sqrt(float64(c.Dimensions)))
	}

	logger.Info("chromem vector driver initialized",
		"path", c.Path,
		"collection", c.CollectionName,
		"documents", col.Count(),
	)

	return &Driver{db: db, collection: col, uniform: uniform, logger: logger}, nil
}

// Upsert adds or replaces documents.
func (d *Driver) Upsert(ctx context.Context, items []vector.Item) error {
	if err := vector.ValidateItems(items); err != nil {
		return err
	}

	for _, it := range items {
		if len(it.Vector) != len(d.uniform) {
			return fmt.Errorf("%w: item %s has %d dimensions, want %d", vector.ErrInvalidItem, it.ID, len(it.Vector), len(d.uniform))
		}
		err := d.collection.AddDocument(ctx, chromem.Document{
			ID:        it.ID,
			Metadata:  it.Metadata,
			Embedding: it.Vector,
			Content:   it.Content,
		})
		if err != nil {
			return fmt.Errorf("adding document %s: %w", it.ID, err)
		}
	}

	d.logger.Debug("upserted documents to chromem", "count", len(items))
	return nil
}

// Query runs a similarity search restricted by the filter. Filter-only
// queries use a uniform query vector and report zero scores.
func (d *Driver) Query(ctx context.Context, q vector.Query) ([]vector.Match, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	count := d.collection.Count()
	if count == 0 {
		return []vector.Match{}, nil
	}

	query := q.Vector
	if len(query) == 0 {
		query = d.uniform
	}

	var where map[string]string
	if len(q.Filter) > 0 {
		where = q.Filter
	}

	results, err := d.collection.QueryEmbedding(ctx, query, min(q.Limit(), count), where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying chromem: %w", err)
	}

	matches := make([]vector.Match, 0, len(results))
	for _, r := range results {
		m := vector.Match{Item: vector.Item{
			ID:       r.ID,
			Vector:   r.Embedding,
			Content:  r.Content,
			Metadata: r.Metadata,
		}}
		if len(q.Vector) > 0 {
			m.Score = r.Similarity
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Get retrieves documents by id, skipping missing ones.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Item, error) {
	out := make([]vector.Item, 0, len(ids))
	for _, id := range ids {
		doc, err := d.collection.GetByID(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, vector.Item{
			ID:       doc.ID,
			Vector:   doc.Embedding,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
	}
	return out, nil
}

// Delete removes documents by id.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := d.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

// Close is a no-op; persistent databases write through on every change.
func (d *Driver) Close() error {
	return nil
}

var _ vector.Driver = (*Driver)(nil)
