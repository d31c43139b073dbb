package download

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures the s3:// transport.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	Secure    bool   `mapstructure:"secure"`
}

// S3Transport reads s3://bucket/key URLs from an S3-compatible object store.
type S3Transport struct {
	client *minio.Client
}

// NewS3Transport creates a transport for cfg.Endpoint.
func NewS3Transport(cfg S3Config) (*S3Transport, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}

	opts := &minio.Options{
		Secure: cfg.Secure,
		Region: cfg.Region,
	}
	if cfg.AccessKey != "" {
		opts.Creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}

	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	return &S3Transport{client: client}, nil
}

func (t *S3Transport) Open(ctx context.Context, u *url.URL) (io.ReadCloser, int64, error) {
	bucket, key, err := splitObjectURL(u)
	if err != nil {
		return nil, 0, err
	}

	obj, err := t.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get object %s/%s: %w", bucket, key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, 0, fmt.Errorf("failed to stat object %s/%s: %w", bucket, key, err)
	}
	return obj, info.Size, nil
}

// splitObjectURL turns s3://bucket/path/to/key into its bucket and key.
func splitObjectURL(u *url.URL) (string, string, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid object URL %q: want s3://bucket/key", u.String())
	}
	return bucket, key, nil
}
