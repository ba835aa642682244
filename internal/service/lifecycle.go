package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"openbroadcast/stream-api/internal/model"
	"openbroadcast/stream-api/internal/store"
	"openbroadcast/stream-api/internal/stream"

	"go.uber.org/zap"
)

const (
	DefaultDescription = "A video uploaded to OpenBroadcast."
	releaseDateLayout  = "January 02 2006"
	streamFormat       = "hls"
)

type LifecycleConfig struct {
	LibraryID string
	// Root of the pull zone serving thumbnails, no trailing slash
	PullZoneRoot string
	// Hostname of the library CDN serving HLS playlists, no trailing slash
	CDNHostname        string
	DefaultDescription string
}

// Lifecycle runs the upload operations triggered by clients: registering
// an upload and capturing it once the client finished pushing the bytes
type Lifecycle struct {
	cfg    LifecycleConfig
	store  Store
	stream StreamClient
	now    func() time.Time
}

func NewLifecycle(cfg LifecycleConfig, s Store, c StreamClient) *Lifecycle {
	if cfg.DefaultDescription == "" {
		cfg.DefaultDescription = DefaultDescription
	}

	cfg.PullZoneRoot = strings.TrimRight(cfg.PullZoneRoot, "/")
	cfg.CDNHostname = strings.TrimRight(cfg.CDNHostname, "/")

	return &Lifecycle{
		cfg:    cfg,
		store:  s,
		stream: c,
		now:    time.Now,
	}
}

type UploadInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// UploadSession is what a client needs to start pushing the video bytes
type UploadSession struct {
	Credential model.Credential
	Metadata   model.Metadata
	// Non fatal problems hit while creating the session
	Warnings []string
}

// CreateUpload registers a video with the streaming service and stores a
// pending upload for it. Nothing is written locally unless every step
// succeeded.
func (l *Lifecycle) CreateUpload(ctx context.Context, id string, in UploadInput) (*UploadSession, error) {
	if !ValidID(id) {
		return nil, fail(KindValidation, ReasonInvalidID, "`id` is formatted incorrectly", id, nil)
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fail(KindValidation, ReasonMissingTitle, "Title is missing", nil, nil)
	}

	description := in.Description
	if description == "" {
		description = l.cfg.DefaultDescription
	}

	remote, err := l.stream.CreateVideo(ctx, title)
	if err != nil {
		return nil, fail(KindRemote, ReasonRemoteCreateFailed, "Failed to create the remote video", nil, err)
	}
	if remote == nil || remote.GUID == "" {
		return nil, fail(KindRemote, ReasonRemoteCreateFailed, "Streaming service returned no video guid", nil, nil)
	}

	guid := remote.GUID
	session := &UploadSession{}

	err = l.stream.UpdateMetaTags(ctx, guid, []stream.MetaTag{
		{Property: stream.TagDescription, Value: description},
		{Property: stream.TagVideoID, Value: id},
	})
	if err != nil {
		// Reconciliation can't map the remote video back without the tags,
		// but the upload itself still works
		zap.L().Warn("Failed to tag remote video", zap.String("video_id", id), zap.String("guid", guid), zap.Error(err))
		session.Warnings = append(session.Warnings, "metatags_update_failed")
	}

	session.Metadata = model.Metadata{
		ID:           id,
		Title:        title,
		Description:  description,
		Category:     in.Category,
		GUID:         guid,
		LibraryID:    l.cfg.LibraryID,
		ThumbnailURL: l.cfg.PullZoneRoot + "/thumbnails/" + id + ".png",
		StreamURL:    l.cfg.CDNHostname + "/" + guid + "/playlist.m3u8",
	}

	cred, err := l.stream.CreateUploadCredential(ctx, guid)
	if err != nil {
		l.discardRemote(ctx, id, guid)
		return nil, fail(KindRemote, ReasonCredentialFailed, "Failed to create an upload signature", nil, err)
	}
	if !cred.Complete() {
		l.discardRemote(ctx, id, guid)
		return nil, fail(KindRemote, ReasonCredentialIncomplete, "Upload signature is missing required fields", cred, nil)
	}

	session.Credential = *cred

	err = l.store.InsertUpload(ctx, &model.Upload{
		ID:        id,
		Metadata:  session.Metadata,
		Signature: session.Credential,
		CreatedAt: l.now(),
	})
	if err != nil {
		l.discardRemote(ctx, id, guid)

		if errors.Is(err, store.ErrDuplicateID) {
			return nil, fail(KindDuplicate, ReasonDuplicateID, "Upload object with id "+id+" already exists", id, err)
		}

		return nil, fail(KindStore, ReasonStoreFailed, "Transaction with database failed", nil, err)
	}

	zap.L().Info("Upload created", zap.String("video_id", id), zap.String("guid", guid))
	return session, nil
}

// discardRemote removes a remote video created for an upload that failed
// later on. It runs even if the request was cancelled.
func (l *Lifecycle) discardRemote(ctx context.Context, id, guid string) {
	err := l.stream.DeleteVideo(context.WithoutCancel(ctx), guid)
	if err != nil {
		zap.L().Warn("Failed to discard remote video of failed upload",
			zap.String("video_id", id),
			zap.String("guid", guid),
			zap.Error(err))
	}
}

// CaptureUpload promotes a pending upload to the catalog once the client
// proves it holds the upload signature. It reports true only if the video
// is in the catalog afterwards.
func (l *Lifecycle) CaptureUpload(ctx context.Context, id, signature string) (bool, error) {
	if !ValidID(id) {
		return false, fail(KindValidation, ReasonInvalidID, "`id` is formatted incorrectly", id, nil)
	}

	u, err := l.store.FindUpload(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, fail(KindNotFound, ReasonUploadNotFound, "No pending upload with this id", id, err)
		}

		return false, fail(KindStore, ReasonStoreFailed, "Transaction with database failed", nil, err)
	}

	if subtle.ConstantTimeCompare([]byte(signature), []byte(u.Signature.Signature)) != 1 {
		return false, fail(KindValidation, ReasonSignatureMismatch, "Signature does not match the upload", nil, nil)
	}

	// Fetch before touching the stores so a remote failure leaves the
	// pending upload in place
	remote, err := l.stream.RetrieveVideo(ctx, u.Metadata.GUID)
	if err != nil {
		if errors.Is(err, stream.ErrNotFound) {
			return false, fail(KindRemote, ReasonRemoteVideoMissing, "Streaming service has no video for this upload", u.Metadata.GUID, err)
		}

		return false, fail(KindRemote, ReasonRemoteUnavailable, "Failed to reach the streaming service", nil, err)
	}

	if remote.Status.Band() == stream.BandFailed {
		return false, fail(KindRemote, ReasonRemoteVideoFailed, "Streaming service failed to process the video", remote.Status, nil)
	}

	created, err := l.store.Promote(ctx, buildVideo(u, remote, l.now()))
	if err != nil {
		// A reconciliation cycle promoted or dropped it since it was read
		if errors.Is(err, store.ErrNotFound) {
			return false, fail(KindNotFound, ReasonUploadNotFound, "No pending upload with this id", id, err)
		}

		return false, fail(KindStore, ReasonStoreFailed, "Transaction with database failed", nil, err)
	}

	zap.L().Info("Upload captured",
		zap.String("video_id", id),
		zap.String("guid", u.Metadata.GUID),
		zap.Bool("created", created))

	return true, nil
}

// buildVideo turns a pending upload into a catalog entry, enriched with the
// file attributes reported by the streaming service
func buildVideo(u *model.Upload, remote *stream.Video, now time.Time) *model.Video {
	m := u.Metadata

	return &model.Video{
		ID: u.ID,
		Metadata: model.VideoMetadata{
			Metadata: m,
			FeedTags: model.FeedTags{
				ReleaseDate:  now.Format(releaseDateLayout),
				Title:        m.Title,
				Description:  m.Description,
				URL:          m.StreamURL,
				Poster:       m.ThumbnailURL,
				StreamFormat: streamFormat,
				Length:       remote.Length,
				Width:        remote.Width,
				Height:       remote.Height,
				Framerate:    remote.Framerate,
			},
		},
		CreatedAt: now,
	}
}
