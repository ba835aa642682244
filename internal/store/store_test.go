package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"openbroadcast/stream-api/db"
	"openbroadcast/stream-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()

	conn, err := db.New(db.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)

	return New(conn)
}

func upload(id string, createdAt time.Time) *model.Upload {
	return &model.Upload{
		ID:        id,
		Metadata:  model.Metadata{ID: id, Title: "title " + id, GUID: "guid-" + id},
		Signature: model.Credential{Signature: "sig-" + id, ExpiresAt: createdAt.Add(time.Hour).Unix(), LibraryID: "lib"},
		CreatedAt: createdAt,
	}
}

func video(id string) *model.Video {
	return &model.Video{
		ID:       id,
		Metadata: model.VideoMetadata{Metadata: model.Metadata{ID: id, GUID: "guid-" + id}},
	}
}

func TestInsertUploadDuplicate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertUpload(ctx, upload("AAAAAAAAAAAA", time.Now())))

	err := s.InsertUpload(ctx, upload("AAAAAAAAAAAA", time.Now()))
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestFindUploadRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u := upload("AAAAAAAAAAAA", time.Now())
	require.NoError(t, s.InsertUpload(ctx, u))

	got, err := s.FindUpload(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Metadata, got.Metadata)
	assert.Equal(t, u.Signature, got.Signature)

	_, err = s.FindUpload(ctx, "BBBBBBBBBBBB")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListUploadsOldestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.InsertUpload(ctx, upload("CCCCCCCCCCCC", now)))
	require.NoError(t, s.InsertUpload(ctx, upload("AAAAAAAAAAAA", now.Add(-2*time.Hour))))
	require.NoError(t, s.InsertUpload(ctx, upload("BBBBBBBBBBBB", now.Add(-time.Hour))))

	uploads, err := s.ListUploads(ctx)
	require.NoError(t, err)
	require.Len(t, uploads, 3)
	assert.Equal(t, "AAAAAAAAAAAA", uploads[0].ID)
	assert.Equal(t, "BBBBBBBBBBBB", uploads[1].ID)
	assert.Equal(t, "CCCCCCCCCCCC", uploads[2].ID)
}

func TestDeletesAreIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertUpload(ctx, upload("AAAAAAAAAAAA", time.Now())))
	require.NoError(t, s.DeleteUpload(ctx, "AAAAAAAAAAAA"))
	require.NoError(t, s.DeleteUpload(ctx, "AAAAAAAAAAAA"))

	exists, err := s.UploadExists(ctx, "AAAAAAAAAAAA")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.DeleteVideo(ctx, "AAAAAAAAAAAA"))
}

func TestInsertVideoOnlyOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	created, err := s.InsertVideo(ctx, video("AAAAAAAAAAAA"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.InsertVideo(ctx, video("AAAAAAAAAAAA"))
	require.NoError(t, err)
	assert.False(t, created)

	videos, err := s.ListVideos(ctx)
	require.NoError(t, err)
	assert.Len(t, videos, 1)
}

func TestPromoteMovesUpload(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertUpload(ctx, upload("AAAAAAAAAAAA", time.Now())))

	created, err := s.Promote(ctx, video("AAAAAAAAAAAA"))
	require.NoError(t, err)
	assert.True(t, created)

	exists, err := s.UploadExists(ctx, "AAAAAAAAAAAA")
	require.NoError(t, err)
	assert.False(t, exists)

	v, err := s.FindVideo(ctx, "AAAAAAAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, "guid-AAAAAAAAAAAA", v.Metadata.GUID)
}

func TestPromoteConcurrentCreatesOneVideo(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertUpload(ctx, upload("AAAAAAAAAAAA", time.Now())))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Losers find the upload gone
			ok, err := s.Promote(ctx, video("AAAAAAAAAAAA"))
			if err != nil {
				assert.ErrorIs(t, err, ErrNotFound)
			}

			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)

	videos, err := s.ListVideos(ctx)
	require.NoError(t, err)
	assert.Len(t, videos, 1)
}

func TestPromoteWithoutUploadWritesNothing(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	created, err := s.Promote(ctx, video("AAAAAAAAAAAA"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, created)

	exists, err := s.VideoExists(ctx, "AAAAAAAAAAAA")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPageVideos(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, id := range []string{"AAAAAAAAAAAA", "BBBBBBBBBBBB", "CCCCCCCCCCCC"} {
		_, err := s.InsertVideo(ctx, video(id))
		require.NoError(t, err)
	}

	page, err := s.PageVideos(ctx, 0, 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	page, err = s.PageVideos(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}
