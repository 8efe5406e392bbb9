package build

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jsenv/core-sub005/internal/urlgraph"
)

// PublishConfig holds the S3-compatible target for build uploads.
type PublishConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Publisher uploads a build result to an S3-compatible object store, the
// deploy path for static hosting behind a CDN.
type Publisher struct {
	client   *minio.Client
	bucket   string
	region   string
	initOnce sync.Once
	initErr  error
}

// NewPublisher validates the config and builds the client. No network
// traffic happens until the first upload.
func NewPublisher(cfg PublishConfig) (*Publisher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("publish: endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("publish: access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("publish: bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("publish: init client: %w", err)
	}
	return &Publisher{client: client, bucket: bucket, region: region}, nil
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	p.initOnce.Do(func() {
		exists, err := p.client.BucketExists(ctx, p.bucket)
		if err != nil {
			p.initErr = err
			return
		}
		if exists {
			return
		}
		p.initErr = p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region})
	})
	return p.initErr
}

// Publish uploads every build file under prefix, deterministically ordered
// so retries after a partial failure re-cover the same ground.
func (p *Publisher) Publish(ctx context.Context, prefix string, result *Result) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publish: not configured")
	}
	if err := p.ensureBucket(ctx); err != nil {
		return fmt.Errorf("publish: ensure bucket: %w", err)
	}

	paths := make([]string, 0, len(result.FileContents))
	for rel := range result.FileContents {
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		content := []byte(result.FileContents[rel])
		key := objectKey(prefix, rel)
		_, err := p.client.PutObject(ctx, p.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
			ContentType: urlgraph.ContentTypeFromURL(rel),
		})
		if err != nil {
			return fmt.Errorf("publish: upload %s: %w", key, err)
		}
	}
	return nil
}

func objectKey(prefix, rel string) string {
	normalized := strings.TrimLeft(strings.TrimSpace(rel), "/")
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return normalized
	}
	return prefix + "/" + normalized
}
