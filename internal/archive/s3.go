// Package archive keeps a gzipped JSON copy of stored mail content in S3.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/socivy/rebel/internal/config"
	"github.com/socivy/rebel/internal/domain"
	"github.com/socivy/rebel/internal/pkg/logger"
)

// PutObjectAPI is the part of *s3.Client the archive needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive writes DeliveryContent objects under a key prefix.
type S3Archive struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// New wraps an existing client.
func New(client PutObjectAPI, bucket, prefix string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, prefix: prefix}
}

// NewFromConfig builds an S3 client from cfg. Static keys are used when set,
// otherwise the default AWS credential chain. EndpointURL points the client
// at an S3-compatible store.
func NewFromConfig(ctx context.Context, cfg config.ArchiveConfig) (*S3Archive, error) {
	region := cfg.AWSRegion
	if region == "" {
		region = os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	logger.Info("archive: S3 initialized", "bucket", cfg.S3Bucket, "prefix", cfg.Prefix, "region", region)
	return New(client, cfg.S3Bucket, cfg.Prefix), nil
}

// Key is the object key for a record's content.
func (a *S3Archive) Key(mailID string) string {
	return a.prefix + mailID + ".json.gz"
}

// Put uploads content, replacing any earlier copy.
func (a *S3Archive) Put(ctx context.Context, content domain.DeliveryContent) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("serialize content: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return fmt.Errorf("compress content: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress content: %w", err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(a.Key(content.MailID)),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", a.Key(content.MailID), err)
	}
	return nil
}
