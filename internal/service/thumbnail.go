package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

var (
	ErrThumbnailType  = errors.New("thumbnail must be a png image")
	ErrThumbnailSize  = errors.New("thumbnail is too large")
	ErrThumbnailEmpty = errors.New("thumbnail is empty")
)

// ObjectStore is the subset of the S3 API used for thumbnails
type ObjectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Thumbnails stores video posters in the bucket behind the pull zone, at
// the path the catalog metadata points to
type Thumbnails struct {
	s3      ObjectStore
	bucket  *string
	maxSize int64
}

func NewThumbnails(s ObjectStore, bucket string, maxSize int64) *Thumbnails {
	if maxSize <= 0 {
		maxSize = 5 << 20
	}

	return &Thumbnails{
		s3:      s,
		bucket:  aws.String(bucket),
		maxSize: maxSize,
	}
}

func ThumbnailKey(id string) string {
	return "thumbnails/" + id + ".png"
}

// Put stores a PNG poster for video id, replacing any previous one
func (t *Thumbnails) Put(ctx context.Context, id string, r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, t.maxSize+1))
	if err != nil {
		return fmt.Errorf("failed to read thumbnail, %w", err)
	}

	if len(data) == 0 {
		return ErrThumbnailEmpty
	}

	if int64(len(data)) > t.maxSize {
		return ErrThumbnailSize
	}

	// Check the actual bytes, the client supplied content type is easy to spoof
	if !mimetype.Detect(data).Is("image/png") {
		return ErrThumbnailType
	}

	_, err = t.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        t.bucket,
		Key:           aws.String(ThumbnailKey(id)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("image/png"),
		CacheControl:  aws.String("public, max-age=3600"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload thumbnail, %w", err)
	}

	zap.L().Debug("Thumbnail stored", zap.String("video_id", id), zap.Int("size", len(data)))
	return nil
}

func (t *Thumbnails) Delete(ctx context.Context, id string) error {
	_, err := t.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: t.bucket,
		Key:    aws.String(ThumbnailKey(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete thumbnail, %w", err)
	}

	return nil
}
