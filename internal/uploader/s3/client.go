// Package s3 provides the object-storage transport behind the upload pool.
//
// One session is created per run and shared read-only across upload
// workers; the SDK's HTTP transport handles the per-connection pooling, so
// the only tuning needed is MaxIdleConnsPerHost >= worker count.
package s3

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// Config carries the credentials and addressing knobs for one bucket.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional; non-empty switches to path-style addressing
	AccessKeyID     string
	SecretAccessKey string

	// Workers sizes the HTTP connection pool; it should match the upload
	// pool's worker count.
	Workers int
}

// Client wraps one shared session and the bucket it targets.
type Client struct {
	bucket   string
	api      *awss3.S3
	uploader *s3manager.Uploader
}

// New builds the shared S3 client. No network I/O happens here; call
// CheckBucket to verify connectivity and credentials up front.
func New(cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "eu-central-1"
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	awsCfg := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		HTTPClient: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConns:        workers + 8,
				MaxIdleConnsPerHost: workers + 8,
			},
		},
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("s3: create session: %w", err)
	}

	return &Client{
		bucket:   cfg.Bucket,
		api:      awss3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}, nil
}

// CheckBucket verifies the bucket exists and the credentials can reach it.
// Run this before staging the first chunk so credential typos fail fast.
func (c *Client) CheckBucket(ctx context.Context) error {
	_, err := c.api.HeadBucketWithContext(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3: bucket %q not reachable: %w", c.bucket, err)
	}
	return nil
}

// Upload sends one local file to the given key. It is the uploader.
// TransferFunc for this transport and is safe for concurrent use.
func (c *Client) Upload(ctx context.Context, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()

	_, err = c.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(remote),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", c.bucket, remote, err)
	}
	return nil
}
