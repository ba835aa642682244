package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	put     map[string][]byte
	deleted []string
	err     error
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}

	var buf bytes.Buffer
	buf.ReadFrom(in.Body)

	if f.put == nil {
		f.put = map[string][]byte{}
	}
	f.put[*in.Key] = buf.Bytes()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}

	f.deleted = append(f.deleted, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

// Smallest useful PNG: signature plus IHDR chunk header
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

func TestThumbnailPut(t *testing.T) {
	objects := &fakeObjects{}
	th := NewThumbnails(objects, "bucket", 1<<20)

	require.NoError(t, th.Put(context.Background(), "AAAAAAAAAAAA", bytes.NewReader(pngBytes)))
	assert.Equal(t, pngBytes, objects.put["thumbnails/AAAAAAAAAAAA.png"])
}

func TestThumbnailRejectsNonPNG(t *testing.T) {
	th := NewThumbnails(&fakeObjects{}, "bucket", 1<<20)

	err := th.Put(context.Background(), "AAAAAAAAAAAA", strings.NewReader("GIF89a not a png at all"))
	assert.ErrorIs(t, err, ErrThumbnailType)

	err = th.Put(context.Background(), "AAAAAAAAAAAA", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrThumbnailEmpty)
}

func TestThumbnailRejectsLargeFile(t *testing.T) {
	th := NewThumbnails(&fakeObjects{}, "bucket", 16)

	err := th.Put(context.Background(), "AAAAAAAAAAAA", bytes.NewReader(pngBytes))
	assert.ErrorIs(t, err, ErrThumbnailSize)
}

func TestThumbnailDelete(t *testing.T) {
	objects := &fakeObjects{}
	th := NewThumbnails(objects, "bucket", 0)

	require.NoError(t, th.Delete(context.Background(), "AAAAAAAAAAAA"))
	assert.Equal(t, []string{"thumbnails/AAAAAAAAAAAA.png"}, objects.deleted)

	objects.err = errors.New("denied")
	assert.Error(t, th.Delete(context.Background(), "AAAAAAAAAAAA"))
}
