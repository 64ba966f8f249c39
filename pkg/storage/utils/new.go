// Package storageutils builds a storage.Driver from configuration.
package storageutils

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/papercomputeco/keepsake/pkg/storage"
	"github.com/papercomputeco/keepsake/pkg/storage/dynamodb"
	"github.com/papercomputeco/keepsake/pkg/storage/inmemory"
	"github.com/papercomputeco/keepsake/pkg/storage/libsql"
	"github.com/papercomputeco/keepsake/pkg/storage/postgres"
	"github.com/papercomputeco/keepsake/pkg/storage/sqlite"
)

type NewDriverOpts struct {
	// ProviderType is one of "memory", "sqlite", "libsql", "postgres",
	// "dynamodb".
	ProviderType string

	// Target is the file path, connection string, URL, or table name.
	Target string

	// Region overrides the AWS region for dynamodb.
	Region string
}

func NewDriver(ctx context.Context, o *NewDriverOpts) (storage.Driver, error) {
	switch o.ProviderType {
	case "", "memory":
		return inmemory.NewDriver(), nil
	case "sqlite":
		return sqlite.NewDriver(ctx, o.Target)
	case "libsql":
		return libsql.NewDriver(ctx, o.Target)
	case "postgres":
		return postgres.NewDriver(ctx, o.Target)
	case "dynamodb":
		var loadOpts []func(*awsconfig.LoadOptions) error
		if o.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(o.Region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		return dynamodb.NewDriver(awsdynamodb.NewFromConfig(cfg), o.Target)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", o.ProviderType)
	}
}
