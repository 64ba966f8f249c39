// Package chroma provides a Chroma vector database driver over its REST API.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/papercomputeco/keepsake/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection name for keepsake turns.
	DefaultCollectionName = "keepsake"

	// DefaultMaxRetries is how many times NewDriver tries to reach Chroma.
	DefaultMaxRetries = 5

	// DefaultRetryDelay is the first delay between connection attempts.
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultMaxRetryDelay caps the connection backoff.
	DefaultMaxRetryDelay = 5 * time.Second

	apiPrefix = "/api/v2/tenants/default_tenant/databases/default_database/collections"
)

// Driver implements vector.Driver using Chroma's REST API.
type Driver struct {
	baseURL        string
	collectionName string
	collectionID   string
	httpClient     *http.Client
	logger         *slog.Logger
}

// Config holds configuration for the Chroma driver.
type Config struct {
	// URL is the Chroma server URL (e.g., "http://localhost:8000").
	URL string

	// CollectionName is the name of the collection to use.
	// Defaults to DefaultCollectionName if empty.
	CollectionName string

	// MaxRetries, RetryDelay and MaxRetryDelay bound the exponential
	// backoff used while Chroma is still starting.
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// NewDriver creates a new Chroma vector driver, retrying until the
// collection can be fetched or created.
func NewDriver(c Config, logger *slog.Logger) (*Driver, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("chroma URL is required")
	}
	if c.CollectionName == "" {
		c.CollectionName = DefaultCollectionName
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = DefaultMaxRetryDelay
	}

	d := &Driver{
		baseURL:        c.URL,
		collectionName: c.CollectionName,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}

	var (
		collectionID string
		err          error
		delay        = c.RetryDelay
	)
	for attempt := 1; attempt <= c.MaxRetries; attempt++ {
		collectionID, err = d.getOrCreateCollection(context.Background())
		if err == nil {
			break
		}
		if attempt == c.MaxRetries {
			return nil, fmt.Errorf("%w: collection %q after %d attempts: %v", vector.ErrConnection, c.CollectionName, attempt, err)
		}
		logger.Warn("chroma not ready, retrying", "attempt", attempt, "delay", delay, "error", err)
		time.Sleep(delay)
		delay = min(delay*2, c.MaxRetryDelay)
	}
	d.collectionID = collectionID

	logger.Info("connected to chroma",
		"url", c.URL,
		"collection", c.CollectionName,
		"collection_id", collectionID,
	)

	return d, nil
}

// getOrCreateCollection gets an existing collection or creates a new one.
func (d *Driver) getOrCreateCollection(ctx context.Context) (string, error) {
	var collection chromaCollection

	status, err := d.do(ctx, http.MethodGet, apiPrefix+"/"+d.collectionName, nil, &collection)
	if err == nil {
		return collection.ID, nil
	}
	if status != http.StatusNotFound && status != 0 && status < http.StatusInternalServerError {
		return "", err
	}

	if _, err := d.do(ctx, http.MethodPost, apiPrefix, map[string]string{"name": d.collectionName}, &collection); err != nil {
		return "", fmt.Errorf("creating collection: %w", err)
	}
	return collection.ID, nil
}

// Upsert adds or replaces records.
func (d *Driver) Upsert(ctx context.Context, items []vector.Item) error {
	if err := vector.ValidateItems(items); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	req := chromaUpsertRequest{
		IDs:        make([]string, len(items)),
		Embeddings: make([][]float32, len(items)),
		Metadatas:  make([]map[string]any, len(items)),
		Documents:  make([]string, len(items)),
	}
	for i, it := range items {
		req.IDs[i] = it.ID
		req.Embeddings[i] = it.Vector
		req.Documents[i] = it.Content
		meta := make(map[string]any, len(it.Metadata))
		for k, v := range it.Metadata {
			meta[k] = v
		}
		req.Metadatas[i] = meta
	}

	if _, err := d.do(ctx, http.MethodPost, d.collectionPath("upsert"), req, nil); err != nil {
		return fmt.Errorf("upserting records: %w", err)
	}

	d.logger.Debug("upserted records to chroma", "count", len(items))
	return nil
}

// Query runs a nearest-neighbour query, or a filtered get when no vector
// is given.
func (d *Driver) Query(ctx context.Context, q vector.Query) ([]vector.Match, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if len(q.Vector) == 0 {
		items, err := d.get(ctx, chromaGetRequest{Where: toWhere(q.Filter), Limit: q.Limit()})
		if err != nil {
			return nil, err
		}
		matches := make([]vector.Match, 0, len(items))
		for _, it := range items {
			matches = append(matches, vector.Match{Item: it})
		}
		return matches, nil
	}

	var resp chromaQueryResponse
	_, err := d.do(ctx, http.MethodPost, d.collectionPath("query"), chromaQueryRequest{
		QueryEmbeddings: [][]float32{q.Vector},
		NResults:        q.Limit(),
		Where:           toWhere(q.Filter),
		Include:         []string{"metadatas", "documents", "distances", "embeddings"},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}

	// Process first group (we only query with one embedding)
	if len(resp.IDs) == 0 {
		return []vector.Match{}, nil
	}

	matches := make([]vector.Match, 0, len(resp.IDs[0]))
	for i, id := range resp.IDs[0] {
		m := vector.Match{Item: vector.Item{ID: id}}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			m.Metadata = fromMetadata(resp.Metadatas[0][i])
		}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			m.Content = resp.Documents[0][i]
		}
		if len(resp.Embeddings) > 0 && i < len(resp.Embeddings[0]) {
			m.Vector = resp.Embeddings[0][i]
		}
		// lower distance = higher similarity
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			m.Score = 1.0 / (1.0 + resp.Distances[0][i])
		}
		matches = append(matches, m)
	}

	d.logger.Debug("queried chroma", "results", len(matches))
	return matches, nil
}

// Get retrieves records by id.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return d.get(ctx, chromaGetRequest{IDs: ids})
}

func (d *Driver) get(ctx context.Context, req chromaGetRequest) ([]vector.Item, error) {
	req.Include = []string{"metadatas", "documents", "embeddings"}

	var resp chromaGetResponse
	if _, err := d.do(ctx, http.MethodPost, d.collectionPath("get"), req, &resp); err != nil {
		return nil, fmt.Errorf("getting records: %w", err)
	}

	items := make([]vector.Item, len(resp.IDs))
	for i, id := range resp.IDs {
		items[i].ID = id
		if i < len(resp.Metadatas) {
			items[i].Metadata = fromMetadata(resp.Metadatas[i])
		}
		if i < len(resp.Documents) {
			items[i].Content = resp.Documents[i]
		}
		if i < len(resp.Embeddings) {
			items[i].Vector = resp.Embeddings[i]
		}
	}
	return items, nil
}

// Delete removes records by id.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := d.do(ctx, http.MethodPost, d.collectionPath("delete"), chromaDeleteRequest{IDs: ids}, nil); err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}
	d.logger.Debug("deleted records from chroma", "count", len(ids))
	return nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	d.httpClient.CloseIdleConnections()
	return nil
}

func (d *Driver) collectionPath(op string) string {
	return apiPrefix + "/" + d.collectionID + "/" + op
}

// do sends a JSON request and decodes a JSON response into out. The
// returned status is 0 when no response was received.
func (d *Driver) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, string(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func toWhere(f vector.Filter) map[string]any {
	switch len(f) {
	case 0:
		return nil
	case 1:
		for k, v := range f {
			return map[string]any{k: v}
		}
	}

	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		clauses = append(clauses, map[string]any{k: f[k]})
	}
	return map[string]any{"$and": clauses}
}

func fromMetadata(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

var _ vector.Driver = (*Driver)(nil)
