// Package storage talks to Akave O3 (S3-compatible) object storage: model
// artifacts in, gzipped result exports out.
package storage

import (
	"bytes"
	"cmp"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/akave-ai/anomalog/internal/config"
)

var (
	ErrNotConfigured  = errors.New("o3 client not configured")
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectTooLarge = errors.New("object too large")
)

// maxObjectSize bounds downloads held in memory (model artifacts).
const maxObjectSize = 32 << 20

// O3Client reads and writes objects of one S3-compatible bucket under a key
// prefix.
type O3Client struct {
	api    *s3.Client
	bucket string
	prefix string
}

// NewO3Client returns nil, nil when cfg is nil or has no endpoint/bucket, so
// callers can treat object storage as optional.
func NewO3Client(cfg *config.O3Config) (*O3Client, error) {
	if cfg == nil || cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, nil
	}
	awsCfg := aws.Config{
		Region:      cmp.Or(cfg.Region, "us-east-1"),
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		// O3 gateways serve buckets by path, not virtual host.
		o.UsePathStyle = true
	})
	return &O3Client{
		api:    api,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cmp.Or(cfg.Prefix, "anomalog"), "/"),
	}, nil
}

// EnsureBucket creates the bucket when HeadBucket reports it missing. A
// bucket created concurrently by another instance counts as success.
func (c *O3Client) EnsureBucket(ctx context.Context) error {
	if c == nil {
		return nil
	}
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) && !hasCode(err, "NotFound", "NoSuchBucket") {
		return fmt.Errorf("head bucket %s: %w", c.bucket, err)
	}
	_, err = c.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil && !hasCode(err, "BucketAlreadyOwnedByYou", "BucketAlreadyExists") {
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}
	return nil
}

func hasCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}

// PutObject stores data under key. contentEncoding may be empty.
func (c *O3Client) PutObject(ctx context.Context, key string, data []byte, contentType, contentEncoding string) error {
	if c == nil {
		return ErrNotConfigured
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	}
	if contentEncoding != "" {
		in.ContentEncoding = aws.String(contentEncoding)
	}
	if _, err := c.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// ExportKey returns the object key of a batch export,
// e.g. anomalog/exports/2024/02/17/<batch>.csv.gz.
func (c *O3Client) ExportKey(batchID uuid.UUID, at time.Time) string {
	prefix := "anomalog"
	if c != nil {
		prefix = c.prefix
	}
	return path.Join(prefix, "exports", at.UTC().Format("2006/01/02"), batchID.String()+".csv.gz")
}

// UploadGzip compresses data and stores it under key with gzip encoding.
func (c *O3Client) UploadGzip(ctx context.Context, key string, data []byte, contentType string) error {
	if c == nil {
		return ErrNotConfigured
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return fmt.Errorf("gzip %s: %w", key, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("gzip %s: %w", key, err)
	}
	return c.PutObject(ctx, key, buf.Bytes(), contentType, "gzip")
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ListObjects lists every object under prefix, newest first. An empty prefix
// lists the client's own prefix. A nil client lists nothing.
func (c *O3Client) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if c == nil {
		return nil, nil
	}
	if prefix == "" {
		prefix = c.prefix + "/"
	}
	var objects []ObjectInfo
	pages := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, o := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
	}
	sortNewestFirst(objects)
	return objects, nil
}

func sortNewestFirst(objects []ObjectInfo) {
	slices.SortStableFunc(objects, func(a, b ObjectInfo) int {
		return b.LastModified.Compare(a.LastModified)
	})
}

// GetObject downloads key into memory. Objects larger than 32 MiB are refused.
func (c *O3Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) || hasCode(err, "NoSuchKey", "NotFound") {
			return nil, fmt.Errorf("get %s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(io.LimitReader(out.Body, maxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if len(data) > maxObjectSize {
		return nil, fmt.Errorf("get %s: %w", key, ErrObjectTooLarge)
	}
	return data, nil
}
