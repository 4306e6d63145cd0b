// Package s3 provides an S3-backed evidence store.
package s3

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bracken-sec/conmon/internal/evidence"
)

// Config configures the S3 evidence store.
type Config struct {
	Bucket string
	Prefix string
	Region string
}

// Store resolves evidence identifiers against an S3 bucket via HeadObject.
type Store struct {
	config Config
	client *s3.Client
}

// New creates an S3 evidence store using the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Store{
		config: cfg,
		client: s3.NewFromConfig(awsCfg),
	}, nil
}

// Head resolves an evidence identifier to object metadata.
func (s *Store) Head(ctx context.Context, id string) (*evidence.Metadata, error) {
	key := id
	if s.config.Prefix != "" {
		key = path.Join(s.config.Prefix, id)
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, evidence.ErrNotFound
		}
		return nil, fmt.Errorf("head evidence object %s: %w", key, err)
	}

	meta := &evidence.Metadata{ID: id}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	if out.ContentType != nil {
		meta.ContentType = *out.ContentType
	}
	if out.LastModified != nil {
		meta.LastModified = *out.LastModified
	}
	return meta, nil
}
