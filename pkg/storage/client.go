// Package storage publishes produced artifacts to S3 and fetches OTA
// baselines from it.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ws63-tools/fwpack/pkg/errors"
)

var (
	// ErrDigestMismatch reports an uploaded object whose digest differs from
	// the digest recorded when the artifact was built.
	ErrDigestMismatch = errors.New("digest mismatch")

	// ErrObjectExists reports a publish that would replace an existing object.
	ErrObjectExists = errors.New("object already exists")
)

// Options configures the S3 client.
type Options struct {
	Bucket string
	Region string
	// Prefix is prepended to every published key.
	Prefix string
	// Anonymous disables credential lookup; only public reads work.
	Anonymous bool
}

// Client provides S3 storage operations
type Client struct {
	s3Client *s3.Client
	bucket   string
	prefix   string
}

// NewClient creates a new S3 client.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	slog.Info("s3_client_init", "bucket", opts.Bucket, "region", opts.Region, "anonymous", opts.Anonymous)
	if opts.Bucket == "" {
		return nil, errors.Newf(errors.ErrConfigMissing, "s3 bucket")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.Anonymous {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return &Client{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
	}, nil
}

// Key returns the object key a local artifact is published under.
func (c *Client) Key(localPath string) string {
	return path.Join(c.prefix, filepath.Base(localPath))
}

// ObjectResult contains transfer metadata
type ObjectResult struct {
	LocalPath string
	Key       string
	SHA256    string
	Size      int64
}

// Upload puts the file at localPath under key.
func (c *Client) Upload(ctx context.Context, localPath, key string) (*ObjectResult, error) {
	slog.Info("s3_upload_start", "bucket", c.bucket, "s3_key", key, "local_path", localPath)

	sum, size, err := FileDigest(localPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open artifact")
	}
	defer f.Close()

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
		Metadata:      map[string]string{"sha256": sum},
	})
	if err != nil {
		slog.Error("s3_put_object_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to put object to S3")
	}

	slog.Info("s3_upload_complete", "s3_key", key, "size", size, "sha256", sum[:16]+"...")
	return &ObjectResult{LocalPath: localPath, Key: key, SHA256: sum, Size: size}, nil
}

// Download downloads an object from S3 and computes SHA256
func (c *Client) Download(ctx context.Context, key, localPath string) (*ObjectResult, error) {
	slog.Info("s3_download_start", "bucket", c.bucket, "s3_key", key)

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create local file")
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), result.Body)
	if err != nil {
		slog.Error("s3_download_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to download file")
	}
	sum := hex.EncodeToString(hash.Sum(nil))

	slog.Info("s3_download_complete", "s3_key", key, "size", size, "local_path", localPath)
	return &ObjectResult{LocalPath: localPath, Key: key, SHA256: sum, Size: size}, nil
}

// ListObjects lists the keys published under the client prefix.
func (c *Client) ListObjects(ctx context.Context) ([]string, error) {
	prefix := c.prefix
	if prefix != "" {
		prefix += "/"
	}
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("s3_list_failed", "prefix", prefix, "error", err)
			return nil, errors.Wrap(err, "failed to list objects")
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	slog.Info("s3_list_complete", "prefix", prefix, "object_count", len(keys))
	return keys, nil
}

// Exists checks if an object exists in S3
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		slog.Error("s3_head_object_failed", "s3_key", key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}
	return true, nil
}

// FileDigest returns the hex sha256 and size of the file at p.
func FileDigest(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, errors.Wrap(err, "failed to open artifact")
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, f)
	if err != nil {
		return "", 0, errors.Wrap(err, "failed to hash artifact")
	}
	return hex.EncodeToString(hash.Sum(nil)), size, nil
}
