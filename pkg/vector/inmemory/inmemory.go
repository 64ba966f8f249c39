// Package inmemory implements vector.Driver with brute-force cosine search
// over a process-local map.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/papercomputeco/keepsake/pkg/vector"
)

// Driver implements vector.Driver in memory.
type Driver struct {
	mu    sync.RWMutex
	items map[string]vector.Item

	// order records first insertion so filter-only queries are stable
	order []string
}

// NewDriver creates an empty in-memory vector store.
func NewDriver() *Driver {
	return &Driver{items: make(map[string]vector.Item)}
}

// Upsert stores copies of items.
func (d *Driver) Upsert(_ context.Context, items []vector.Item) error {
	if err := vector.ValidateItems(items); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, it := range items {
		if _, ok := d.items[it.ID]; !ok {
			d.order = append(d.order, it.ID)
		}
		d.items[it.ID] = clone(it)
	}
	return nil
}

// Query ranks filtered items by cosine similarity.
func (d *Driver) Query(_ context.Context, q vector.Query) ([]vector.Match, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	matches := make([]vector.Match, 0)
	for _, id := range d.order {
		it, ok := d.items[id]
		if !ok || !q.Filter.Matches(it.Metadata) {
			continue
		}
		m := vector.Match{Item: clone(it)}
		if len(q.Vector) > 0 {
			m.Score = vector.CosineSimilarity(q.Vector, it.Vector)
		}
		matches = append(matches, m)
	}

	if len(q.Vector) > 0 {
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].Score > matches[j].Score
		})
	}

	if len(matches) > q.Limit() {
		matches = matches[:q.Limit()]
	}
	return matches, nil
}

// Get returns the stored items for ids.
func (d *Driver) Get(_ context.Context, ids []string) ([]vector.Item, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]vector.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := d.items[id]; ok {
			out = append(out, clone(it))
		}
	}
	return out, nil
}

// Delete removes items by id.
func (d *Driver) Delete(_ context.Context, ids []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range ids {
		delete(d.items, id)
	}

	kept := d.order[:0]
	for _, id := range d.order {
		if _, ok := d.items[id]; ok {
			kept = append(kept, id)
		}
	}
	d.order = kept
	return nil
}

// Len returns the number of stored items.
func (d *Driver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.items)
}

// Close is a no-op.
func (d *Driver) Close() error {
	return nil
}

func clone(it vector.Item) vector.Item {
	c := it
	c.Vector = append([]float32(nil), it.Vector...)
	if it.Metadata != nil {
		c.Metadata = make(map[string]string, len(it.Metadata))
		for k, v := range it.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

var _ vector.Driver = (*Driver)(nil)
