// Package aws defines functions used to interact with S3 compatible object storage
package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKey       string
	SecretAccessKey string
	// Set to use a Cloudflare R2 bucket, overrides Endpoint and Region
	R2AccountID string
}

func R2Endpoint(accountID string) string {
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
}

type S3Client struct {
	C      *s3.Client
	Bucket string
}

// NewS3 builds a client and makes sure the bucket exists. An empty
// Endpoint talks to AWS, anything else (R2, MinIO) is used as the base
// endpoint with path style addressing.
func NewS3(ctx context.Context, c S3Config) (*S3Client, error) {
	if c.Bucket == "" {
		return nil, errors.New("bucket can't be empty")
	}

	if c.R2AccountID != "" {
		c.Endpoint = R2Endpoint(c.R2AccountID)
		c.Region = "auto"
	}

	opts := []func(*config.LoadOptions) error{}
	if c.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AccessKey,
			c.SecretAccessKey,
			"",
		)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Region != "" {
			o.Region = c.Region
		}
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.Bucket),
	})
	if err != nil {
		var apiErr smithy.APIError

		if errors.As(err, &apiErr) {
			if apiErr.ErrorCode() == "NotFound" {
				return nil, fmt.Errorf("bucket '%s' does not exist", c.Bucket)
			}
		}

		return nil, fmt.Errorf("failed to check if bucket exists, %w", err)
	}

	return &S3Client{
		C:      client,
		Bucket: c.Bucket,
	}, nil
}
