package aws

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestR2Endpoint(t *testing.T) {
	assert.Equal(t, "https://abc123.r2.cloudflarestorage.com", R2Endpoint("abc123"))
}

func TestNewS3NeedsBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{})
	assert.EqualError(t, err, "bucket can't be empty")
}
