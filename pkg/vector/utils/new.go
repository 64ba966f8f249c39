// Package vectorutils builds a vector.Driver from configuration.
package vectorutils

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/papercomputeco/keepsake/pkg/vector"
	"github.com/papercomputeco/keepsake/pkg/vector/chroma"
	"github.com/papercomputeco/keepsake/pkg/vector/chromem"
	"github.com/papercomputeco/keepsake/pkg/vector/inmemory"
	"github.com/papercomputeco/keepsake/pkg/vector/qdrant"
	"github.com/papercomputeco/keepsake/pkg/vector/sqlitevec"
)

type NewVectorDriverOpts struct {
	// ProviderType is one of "memory", "chromem", "sqlite", "chroma",
	// "qdrant".
	ProviderType string

	// Target is a path for embedded stores or a URL / host for servers.
	Target string

	// Port is the qdrant gRPC port.
	Port int

	APIKey     string
	Collection string
	Dimensions uint
	Logger     *slog.Logger
}

func NewVectorDriver(ctx context.Context, o *NewVectorDriverOpts) (vector.Driver, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	switch o.ProviderType {
	case "", "memory":
		return inmemory.NewDriver(), nil
	case "chromem":
		return chromem.NewDriver(chromem.Config{
			Path:           o.Target,
			Compress:       true,
			CollectionName: o.Collection,
			Dimensions:     o.Dimensions,
		}, logger)
	case "sqlite":
		return sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     o.Target,
			Dimensions: o.Dimensions,
		}, logger)
	case "chroma":
		return chroma.NewDriver(chroma.Config{
			URL:            o.Target,
			CollectionName: o.Collection,
		}, logger)
	case "qdrant":
		return qdrant.NewDriver(ctx, qdrant.Config{
			Host:           o.Target,
			Port:           o.Port,
			APIKey:         o.APIKey,
			CollectionName: o.Collection,
			Dimensions:     o.Dimensions,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}
