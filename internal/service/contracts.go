package service

import (
	"context"

	"openbroadcast/stream-api/internal/model"
	"openbroadcast/stream-api/internal/stream"
)

// StreamClient is the remote streaming service as seen by the core
type StreamClient interface {
	CreateVideo(ctx context.Context, title string) (*stream.Video, error)
	UpdateMetaTags(ctx context.Context, guid string, tags []stream.MetaTag) error
	// RetrieveVideo returns stream.ErrNotFound when the service has no such video
	RetrieveVideo(ctx context.Context, guid string) (*stream.Video, error)
	ListVideos(ctx context.Context, libraryID string) ([]stream.Video, error)
	DeleteVideo(ctx context.Context, guid string) error
	CreateUploadCredential(ctx context.Context, guid string) (*model.Credential, error)
}

type UploadStore interface {
	// InsertUpload returns store.ErrDuplicateID if the ID is taken
	InsertUpload(ctx context.Context, u *model.Upload) error
	// FindUpload returns store.ErrNotFound if there's no such upload
	FindUpload(ctx context.Context, id string) (*model.Upload, error)
	UploadExists(ctx context.Context, id string) (bool, error)
	DeleteUpload(ctx context.Context, id string) error
	ListUploads(ctx context.Context) ([]model.Upload, error)
}

type VideoStore interface {
	InsertVideo(ctx context.Context, v *model.Video) (bool, error)
	FindVideo(ctx context.Context, id string) (*model.Video, error)
	VideoExists(ctx context.Context, id string) (bool, error)
	DeleteVideo(ctx context.Context, id string) error
	ListVideos(ctx context.Context) ([]model.Video, error)
}

type Store interface {
	UploadStore
	VideoStore
	// Promote deletes the pending upload and creates the video if it
	// doesn't exist yet
	Promote(ctx context.Context, v *model.Video) (bool, error)
}

// ThumbnailRemover drops the stored poster of a video
type ThumbnailRemover interface {
	Delete(ctx context.Context, id string) error
}

// Locker guards a reconciliation cycle across instances
type Locker interface {
	Acquire(ctx context.Context) (release func(), acquired bool, err error)
}
