// Package qdrant provides a vector driver on a Qdrant server over gRPC.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/papercomputeco/keepsake/pkg/vector"
)

const (
	// DefaultCollectionName is the collection holding keepsake turns.
	DefaultCollectionName = "keepsake"

	// DefaultPort is Qdrant's gRPC port.
	DefaultPort = 6334

	idKey      = "_id"
	contentKey = "_content"
)

// namespace derives deterministic point UUIDs from item ids.
var namespace = uuid.MustParse("6f1c1b1e-8d5a-4c55-9a43-5b0f1a6a2e10")

// Config holds configuration for the Qdrant driver.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	CollectionName string

	// Dimensions of stored vectors, used when the collection is created.
	Dimensions uint
}

// Driver implements vector.Driver on Qdrant.
type Driver struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger
}

// NewDriver connects and ensures the collection exists.
func NewDriver(ctx context.Context, c Config, logger *slog.Logger) (*Driver, error) {
	if c.Host == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("qdrant embedding dimensions cannot be 0, must be configured")
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.CollectionName == "" {
		c.CollectionName = DefaultCollectionName
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   c.Host,
		Port:   c.Port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}

	exists, err := client.CollectionExists(ctx, c.CollectionName)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: checking collection: %v", vector.ErrConnection, err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: c.CollectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(c.Dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("creating collection %q: %w", c.CollectionName, err)
		}
	}

	logger.Info("connected to qdrant",
		"host", c.Host,
		"port", c.Port,
		"collection", c.CollectionName,
		"created", !exists,
	)

	return &Driver{client: client, collection: c.CollectionName, logger: logger}, nil
}

// Upsert writes points and waits for them to be indexed.
func (d *Driver) Upsert(ctx context.Context, items []vector.Item) error {
	if err := vector.ValidateItems(items); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(items))
	for _, it := range items {
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(it.ID),
			Vectors: qdrant.NewVectors(it.Vector...),
			Payload: qdrant.NewValueMap(payload(it)),
		})
	}

	_, err := d.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: d.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}

	d.logger.Debug("upserted points to qdrant", "count", len(items))
	return nil
}

// Query runs a similarity query, or a scroll when only a filter is set.
func (d *Driver) Query(ctx context.Context, q vector.Query) ([]vector.Match, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	filter := toFilter(q.Filter)

	if len(q.Vector) == 0 {
		points, err := d.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: d.collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(q.Limit())),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return nil, fmt.Errorf("scrolling points: %w", err)
		}
		matches := make([]vector.Match, 0, len(points))
		for _, p := range points {
			matches = append(matches, vector.Match{Item: toItem(p.GetPayload(), p.GetVectors())})
		}
		return matches, nil
	}

	scored, err := d.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: d.collection,
		Query:          qdrant.NewQuery(q.Vector...),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(q.Limit())),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}

	matches := make([]vector.Match, 0, len(scored))
	for _, p := range scored {
		matches = append(matches, vector.Match{
			Item:  toItem(p.GetPayload(), p.GetVectors()),
			Score: p.GetScore(),
		})
	}
	return matches, nil
}

// Get retrieves points by item id.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pids := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pids = append(pids, pointID(id))
	}

	points, err := d.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: d.collection,
		Ids:            pids,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting points: %w", err)
	}

	items := make([]vector.Item, 0, len(points))
	for _, p := range points {
		items = append(items, toItem(p.GetPayload(), p.GetVectors()))
	}
	return items, nil
}

// Delete removes points by item id.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pids := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pids = append(pids, pointID(id))
	}

	_, err := d.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: d.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pids...),
	})
	if err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}
	return nil
}

// Close closes the gRPC connection.
func (d *Driver) Close() error {
	return d.client.Close()
}

func pointID(id string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewSHA1(namespace, []byte(id)).String())
}

func payload(it vector.Item) map[string]any {
	p := make(map[string]any, len(it.Metadata)+2)
	for k, v := range it.Metadata {
		p[k] = v
	}
	p[idKey] = it.ID
	p[contentKey] = it.Content
	return p
}

func toFilter(f vector.Filter) *qdrant.Filter {
	if len(f) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(f))
	for k, v := range f {
		must = append(must, qdrant.NewMatch(k, v))
	}
	return &qdrant.Filter{Must: must}
}

func toItem(p map[string]*qdrant.Value, vecs *qdrant.VectorsOutput) vector.Item {
	it := vector.Item{Metadata: make(map[string]string, len(p))}
	for k, v := range p {
		switch k {
		case idKey:
			it.ID = v.GetStringValue()
		case contentKey:
			it.Content = v.GetStringValue()
		default:
			it.Metadata[k] = v.GetStringValue()
		}
	}
	if vecs != nil {
		it.Vector = vecs.GetVector().GetData()
	}
	return it
}

var _ vector.Driver = (*Driver)(nil)
