// Package s3 implements blob.Store on an S3 bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/papercomputeco/keepsake/pkg/blob"
)

// API is the subset of the S3 client used by Store.
type API interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
}

// Config configures a Store.
type Config struct {
	Bucket string

	// Prefix is prepended to every object key.
	Prefix string

	// PublicBaseURL, when set, is used to build durable URLs instead of
	// s3://bucket/key.
	PublicBaseURL string
}

// Store implements blob.Store with an S3 client.
type Store struct {
	api  API
	conf Config
}

// NewStore creates a Store.
func NewStore(api API, c Config) (*Store, error) {
	if c.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	c.Prefix = strings.Trim(c.Prefix, "/")
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
	return &Store{api: api, conf: c}, nil
}

// Put uploads o.
func (s *Store) Put(ctx context.Context, o blob.Object) (string, error) {
	if err := o.Validate(); err != nil {
		return "", err
	}

	key := s.key(o.Key())
	_, err := s.api.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(s.conf.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(o.Data),
		ContentType: aws.String(o.ContentType),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return s.url(key), nil
}

// Get downloads the object at url.
func (s *Store) Get(ctx context.Context, url string) ([]byte, string, error) {
	key, err := s.keyOf(url)
	if err != nil {
		return nil, "", err
	}

	out, err := s.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.conf.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", blob.ErrNotFound
		}
		return nil, "", fmt.Errorf("downloading %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", key, err)
	}

	contentType := aws.ToString(out.ContentType)
	if contentType == "" {
		contentType = blob.ContentTypeOf(key)
	}
	return data, contentType, nil
}

// Delete removes the object at url.
func (s *Store) Delete(ctx context.Context, url string) error {
	key, err := s.keyOf(url)
	if err != nil {
		return err
	}
	_, err = s.api.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.conf.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) key(k string) string {
	if s.conf.Prefix == "" {
		return k
	}
	return s.conf.Prefix + "/" + k
}

func (s *Store) url(key string) string {
	if s.conf.PublicBaseURL != "" {
		return s.conf.PublicBaseURL + "/" + key
	}
	return "s3://" + s.conf.Bucket + "/" + key
}

func (s *Store) keyOf(url string) (string, error) {
	for _, base := range []string{s.conf.PublicBaseURL, "s3://" + s.conf.Bucket} {
		if base != "" && strings.HasPrefix(url, base+"/") {
			return strings.TrimPrefix(url, base+"/"), nil
		}
	}
	return "", fmt.Errorf("url %s does not belong to bucket %s", url, s.conf.Bucket)
}

var _ blob.Store = (*Store)(nil)
