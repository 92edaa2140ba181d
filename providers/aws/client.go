package aws

import (
	"context"
	"fmt"
	"io"
	"strings"

	"hattivatti/core/queue"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/phuslu/log"
)

// S3API is the subset of the S3 client used by the message source
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Options configures the S3 connection
type Options struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// Client reads job request messages from an S3 compatible object store
type Client struct {
	s3     S3API
	bucket string
	prefix string
	logger *log.Logger
}

var _ queue.Source = (*Client)(nil)

// NewClient creates an S3 client for a custom endpoint with static credentials and path style addressing
func NewClient(ctx context.Context, opts Options, logger *log.Logger) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true
	})

	return NewClientWithAPI(client, opts.Bucket, opts.Prefix, logger), nil
}

// NewClientWithAPI wraps an existing S3 API implementation
func NewClientWithAPI(api S3API, bucket, prefix string, logger *log.Logger) *Client {
	return &Client{
		s3:     api,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

// Bucket implements queue.Source
func (c *Client) Bucket() string {
	return c.bucket
}

// List returns every object key under the prefix, following pagination
func (c *Client) List(ctx context.Context) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(c.prefix),
	})

	keys := []string{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", c.bucket, c.prefix, err)
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			keys = append(keys, key)
		}
	}

	c.logger.Debug().Str("bucket", c.bucket).Str("prefix", c.prefix).Int("count", len(keys)).Msg("Listed queue")
	return keys, nil
}

// Fetch reads the whole object body
func (c *Client) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", c.bucket, key, err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", c.bucket, key, err)
	}
	return content, nil
}

// Delete removes one object
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete s3://%s/%s: %w", c.bucket, key, err)
	}
	return nil
}
