package service

import (
	"context"
	"testing"

	"openbroadcast/stream-api/db"
	"openbroadcast/stream-api/internal/model"
	"openbroadcast/stream-api/internal/store"
	"openbroadcast/stream-api/internal/stream"
	"openbroadcast/stream-api/internal/stream/streamtest"

	"github.com/stretchr/testify/require"
)

type env struct {
	store     *store.Store
	remote    *streamtest.Fake
	lifecycle *Lifecycle
	poller    *Poller
}

func newEnv(t *testing.T, opts ...PollerOption) *env {
	t.Helper()

	conn, err := db.New(db.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)

	s := store.New(conn)
	remote := streamtest.New()

	return &env{
		store:  s,
		remote: remote,
		lifecycle: NewLifecycle(LifecycleConfig{
			LibraryID:    remote.Library,
			PullZoneRoot: "https://pull.example.com/",
			CDNHostname:  "https://cdn.example.com",
		}, s, remote),
		poller: NewPoller(PollerConfig{LibraryID: remote.Library}, s, remote, opts...),
	}
}

// createUpload registers an upload through the lifecycle and returns it
func (e *env) createUpload(t *testing.T, id string) *UploadSession {
	t.Helper()

	s, err := e.lifecycle.CreateUpload(context.Background(), id, UploadInput{Title: "title " + id})
	require.NoError(t, err)

	return s
}

func (e *env) uploadCount(t *testing.T) int {
	t.Helper()

	uploads, err := e.store.ListUploads(context.Background())
	require.NoError(t, err)

	return len(uploads)
}

func (e *env) videoCount(t *testing.T) int {
	t.Helper()

	videos, err := e.store.ListVideos(context.Background())
	require.NoError(t, err)

	return len(videos)
}

func tagged(guid, id string, status stream.Status) stream.Video {
	return stream.Video{
		GUID:     guid,
		Status:   status,
		MetaTags: []stream.MetaTag{{Property: stream.TagVideoID, Value: id}},
	}
}

func buildVideoFixture(id string) *model.Video {
	return &model.Video{
		ID:       id,
		Metadata: model.VideoMetadata{Metadata: model.Metadata{ID: id, GUID: "guid-" + id}},
	}
}
