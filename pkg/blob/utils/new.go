// Package blobutils builds a blob.Store from configuration.
package blobutils

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/papercomputeco/keepsake/pkg/blob"
	"github.com/papercomputeco/keepsake/pkg/blob/filesystem"
	"github.com/papercomputeco/keepsake/pkg/blob/inmemory"
	"github.com/papercomputeco/keepsake/pkg/blob/s3"
)

type NewStoreOpts struct {
	// ProviderType is one of "memory", "filesystem", "s3".
	ProviderType string

	// Target is the root directory for filesystem or the bucket for s3.
	Target string

	Prefix        string
	PublicBaseURL string
	Region        string
}

func NewStore(ctx context.Context, o *NewStoreOpts) (blob.Store, error) {
	switch o.ProviderType {
	case "", "memory":
		return inmemory.NewStore(), nil
	case "filesystem":
		return filesystem.NewStore(o.Target)
	case "s3":
		var loadOpts []func(*awsconfig.LoadOptions) error
		if o.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(o.Region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		return s3.NewStore(awss3.NewFromConfig(cfg), s3.Config{
			Bucket:        o.Target,
			Prefix:        o.Prefix,
			PublicBaseURL: o.PublicBaseURL,
		})
	default:
		return nil, fmt.Errorf("unsupported blob provider: %s", o.ProviderType)
	}
}
