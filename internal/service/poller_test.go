package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"openbroadcast/stream-api/internal/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func runOnce(t *testing.T, p *Poller) *CycleReport {
	t.Helper()

	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	return report
}

func TestPollerPromotesReadyUpload(t *testing.T) {
	e := newEnv(t)
	e.createUpload(t, "AAAAAAAAAAAA")
	e.remote.SetStatus("g1", stream.StatusFinished)

	report := runOnce(t, e.poller)
	assert.Equal(t, OutcomePromoted, report.Uploads["AAAAAAAAAAAA"])

	assert.Zero(t, e.uploadCount(t))
	v, err := e.store.FindVideo(context.Background(), "AAAAAAAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, "g1", v.Metadata.GUID)

	// The promoted video is referenced locally so the audit keeps it
	assert.True(t, e.remote.Has("g1"))
	assert.Zero(t, report.RemoteDeleted)
	assert.Zero(t, report.LocalPruned)
}

func TestPollerDropsFailedUpload(t *testing.T) {
	e := newEnv(t)
	e.createUpload(t, "AAAAAAAAAAAA")
	e.remote.SetStatus("g1", stream.Status(6))

	report := runOnce(t, e.poller)
	assert.Equal(t, OutcomeRemoteFailed, report.Uploads["AAAAAAAAAAAA"])

	assert.Zero(t, e.uploadCount(t))
	assert.Zero(t, e.videoCount(t))

	// Failed remote videos are removed by the audit in the same cycle
	assert.False(t, e.remote.Has("g1"))
	assert.Equal(t, 1, report.RemoteDeleted)
}

func TestPollerExpiresStaleUpload(t *testing.T) {
	e := newEnv(t)
	e.createUpload(t, "AAAAAAAAAAAA")
	e.remote.SetStatus("g1", stream.StatusProcessing)

	// Credentials last an hour in the fake, look at them two days later
	e.poller.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	report := runOnce(t, e.poller)
	assert.Equal(t, OutcomeExpired, report.Uploads["AAAAAAAAAAAA"])
	assert.Zero(t, e.uploadCount(t))
	assert.Zero(t, e.videoCount(t))
}

func TestPollerRetainsInProgressUpload(t *testing.T) {
	e := newEnv(t)
	e.createUpload(t, "AAAAAAAAAAAA")

	for _, s := range []stream.Status{stream.StatusCreated, stream.StatusUploaded, stream.StatusProcessing, stream.StatusTranscoding} {
		e.remote.SetStatus("g1", s)

		report := runOnce(t, e.poller)
		assert.Equal(t, OutcomeRetained, report.Uploads["AAAAAAAAAAAA"], "status %d", s)
		assert.Equal(t, 1, e.uploadCount(t))
	}

	// In progress videos are never touched remotely either
	assert.True(t, e.remote.Has("g1"))
}

func TestPollerDropsOrphanedUpload(t *testing.T) {
	e := newEnv(t)
	e.createUpload(t, "AAAAAAAAAAAA")
	require.NoError(t, e.remote.DeleteVideo(context.Background(), "g1"))

	report := runOnce(t, e.poller)
	assert.Equal(t, OutcomeOrphaned, report.Uploads["AAAAAAAAAAAA"])
	assert.Zero(t, e.uploadCount(t))
}

func TestPollerKeepsUploadOnTransientFailure(t *testing.T) {
	e := newEnv(t)
	e.createUpload(t, "AAAAAAAAAAAA")
	e.createUpload(t, "BBBBBBBBBBBB")
	e.remote.SetStatus("g2", stream.StatusFinished)
	e.remote.RetrieveErr["g1"] = context.DeadlineExceeded

	// Expired credentials don't matter without a definite remote answer
	e.poller.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	report := runOnce(t, e.poller)
	assert.Equal(t, OutcomeSkipped, report.Uploads["AAAAAAAAAAAA"])
	assert.Equal(t, OutcomePromoted, report.Uploads["BBBBBBBBBBBB"])
	assert.Len(t, multierr.Errors(report.Errors), 1)

	exists, err := e.store.UploadExists(context.Background(), "AAAAAAAAAAAA")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, e.videoCount(t))
}

func TestAuditPrunesLocalVideoMissingRemotely(t *testing.T) {
	thumbs := &recordingThumbs{}
	e := newEnv(t, WithThumbnails(thumbs))

	_, err := e.store.InsertVideo(context.Background(), buildVideoFixture("AAAAAAAAAAAA"))
	require.NoError(t, err)

	report := runOnce(t, e.poller)
	assert.True(t, report.Audited)
	assert.Equal(t, 1, report.LocalPruned)
	assert.Zero(t, e.videoCount(t))
	assert.Equal(t, []string{"AAAAAAAAAAAA"}, thumbs.deleted)
}

func TestAuditDeletesOrphanedReadyRemoteVideo(t *testing.T) {
	e := newEnv(t)
	e.remote.Put(tagged("gx", "XXXXXXXXXXXX", stream.StatusFinished))

	report := runOnce(t, e.poller)
	assert.Equal(t, 1, report.RemoteDeleted)
	assert.False(t, e.remote.Has("gx"))
}

func TestAuditKeepsReadyRemoteVideoWithPendingUpload(t *testing.T) {
	e := newEnv(t)
	e.createUpload(t, "XXXXXXXXXXXX")

	// Pass A can't see the video finished yet, the audit then finds it ready
	e.remote.RetrieveErr["g1"] = errors.New("flaky")
	e.remote.SetStatus("g1", stream.StatusFinished)

	report := runOnce(t, e.poller)
	assert.Equal(t, OutcomeSkipped, report.Uploads["XXXXXXXXXXXX"])
	assert.Equal(t, 1, report.RemoteInFlight)
	assert.Zero(t, report.RemoteDeleted)
	assert.True(t, e.remote.Has("g1"))

	// Next cycle promotes it
	delete(e.remote.RetrieveErr, "g1")
	report = runOnce(t, e.poller)
	assert.Equal(t, OutcomePromoted, report.Uploads["XXXXXXXXXXXX"])
	assert.True(t, e.remote.Has("g1"))
	assert.Equal(t, 1, e.videoCount(t))
}

func TestAuditDeletesFailedRemoteVideo(t *testing.T) {
	e := newEnv(t)

	_, err := e.store.InsertVideo(context.Background(), buildVideoFixture("AAAAAAAAAAAA"))
	require.NoError(t, err)
	e.remote.Put(tagged("guid-AAAAAAAAAAAA", "AAAAAAAAAAAA", stream.StatusError))

	report := runOnce(t, e.poller)
	assert.Equal(t, 1, report.RemoteDeleted)
	assert.False(t, e.remote.Has("guid-AAAAAAAAAAAA"))

	// The local video goes on the next cycle once the remote is gone
	report = runOnce(t, e.poller)
	assert.Equal(t, 1, report.LocalPruned)
	assert.Zero(t, e.videoCount(t))
}

func TestAuditSkipsUntaggedRemoteVideo(t *testing.T) {
	e := newEnv(t)
	e.remote.Put(stream.Video{GUID: "g-ready", Status: stream.StatusFinished})
	e.remote.Put(stream.Video{GUID: "g-failed", Status: stream.StatusError})

	report := runOnce(t, e.poller)
	assert.Equal(t, 2, report.RemoteUntagged)
	assert.Zero(t, report.RemoteDeleted)
	assert.True(t, e.remote.Has("g-ready"))
	assert.True(t, e.remote.Has("g-failed"))
}

func TestAuditSkippedWhenLibraryUnavailable(t *testing.T) {
	e := newEnv(t)
	e.remote.ListErr = errors.New("unreachable")

	_, err := e.store.InsertVideo(context.Background(), buildVideoFixture("AAAAAAAAAAAA"))
	require.NoError(t, err)

	report := runOnce(t, e.poller)
	assert.False(t, report.Audited)
	assert.Error(t, report.Errors)
	assert.Equal(t, 1, e.videoCount(t))
}

func TestAuditRemoteDeleteFailureIsIsolated(t *testing.T) {
	e := newEnv(t)
	e.remote.Put(tagged("gx", "XXXXXXXXXXXX", stream.StatusFinished))
	e.remote.Put(tagged("gy", "YYYYYYYYYYYY", stream.StatusError))
	e.remote.DeleteErr = errors.New("denied")

	report := runOnce(t, e.poller)
	assert.Len(t, multierr.Errors(report.Errors), 2)
	assert.Zero(t, report.RemoteDeleted)
}

func TestCaptureAndPollerRace(t *testing.T) {
	for range 20 {
		e := newEnv(t)
		s := e.createUpload(t, "AAAAAAAAAAAA")
		e.remote.SetStatus("g1", stream.StatusFinished)

		var wg sync.WaitGroup
		wg.Add(2)

		var (
			captured  bool
			captureEr error
			report    *CycleReport
			pollErr   error
		)

		go func() {
			defer wg.Done()
			captured, captureEr = e.lifecycle.CaptureUpload(context.Background(), "AAAAAAAAAAAA", s.Credential.Signature)
		}()
		go func() {
			defer wg.Done()
			report, pollErr = e.poller.RunOnce(context.Background())
		}()
		wg.Wait()

		require.NoError(t, pollErr)
		assert.Nil(t, report.Errors)

		// Capture either won, or found the upload already promoted
		if captureEr != nil {
			assert.Equal(t, KindNotFound, KindOf(captureEr))
		} else {
			assert.True(t, captured)
		}

		assert.Zero(t, e.uploadCount(t))
		assert.Equal(t, 1, e.videoCount(t))
		assert.True(t, e.remote.Has("g1"))
	}
}

// blockingStream holds RetrieveVideo until released
type blockingStream struct {
	StreamClient
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStream) RetrieveVideo(ctx context.Context, guid string) (*stream.Video, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.StreamClient.RetrieveVideo(ctx, guid)
}

func TestRunOnceIsSingleFlight(t *testing.T) {
	e := newEnv(t)
	e.createUpload(t, "AAAAAAAAAAAA")

	bs := &blockingStream{StreamClient: e.remote, entered: make(chan struct{}, 8), release: make(chan struct{})}
	p := NewPoller(PollerConfig{LibraryID: "lib"}, e.store, bs)

	done := make(chan error)
	go func() {
		_, err := p.RunOnce(context.Background())
		done <- err
	}()

	<-bs.entered

	_, err := p.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(bs.release)
	require.NoError(t, <-done)

	// Free again once the first cycle is over
	_, err = p.RunOnce(context.Background())
	assert.NoError(t, err)
}

type fakeLocker struct {
	acquired bool
	err      error
	released int
}

func (l *fakeLocker) Acquire(context.Context) (func(), bool, error) {
	return func() { l.released++ }, l.acquired, l.err
}

func TestRunOnceRespectsLock(t *testing.T) {
	held := &fakeLocker{acquired: false}
	e := newEnv(t, WithLocker(held))
	e.createUpload(t, "AAAAAAAAAAAA")
	e.remote.SetStatus("g1", stream.StatusFinished)

	report := runOnce(t, e.poller)
	assert.True(t, report.LockHeld)
	assert.Empty(t, report.Uploads)
	assert.Equal(t, 1, e.uploadCount(t))

	free := &fakeLocker{acquired: true}
	e.poller.locker = free

	report = runOnce(t, e.poller)
	assert.False(t, report.LockHeld)
	assert.Equal(t, OutcomePromoted, report.Uploads["AAAAAAAAAAAA"])
	assert.Equal(t, 1, free.released)

	e.poller.locker = &fakeLocker{err: errors.New("redis down")}
	_, err := e.poller.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestPollerStartStop(t *testing.T) {
	e := newEnv(t)
	e.createUpload(t, "AAAAAAAAAAAA")
	e.remote.SetStatus("g1", stream.StatusFinished)

	e.poller.cfg.Interval = time.Hour

	require.NoError(t, e.poller.Start(context.Background()))
	assert.ErrorIs(t, e.poller.Start(context.Background()), ErrPollerStarted)

	// The first cycle runs right after the (zero) jitter
	assert.Eventually(t, func() bool {
		exists, err := e.store.VideoExists(context.Background(), "AAAAAAAAAAAA")
		return err == nil && exists
	}, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.poller.Stop(ctx))

	// Stopping twice is harmless and the poller can be started again
	require.NoError(t, e.poller.Stop(ctx))
	require.NoError(t, e.poller.Start(context.Background()))
	require.NoError(t, e.poller.Stop(ctx))
}

func TestJitterWithinBounds(t *testing.T) {
	p := NewPoller(PollerConfig{JitterMin: 10 * time.Second, JitterMax: 30 * time.Second}, nil, nil)

	for range 100 {
		j := p.jitter()
		assert.GreaterOrEqual(t, j, 10*time.Second)
		assert.Less(t, j, 30*time.Second)
	}

	p.cfg = PollerConfig{}
	assert.Zero(t, p.jitter())
}

type recordingThumbs struct {
	mu      sync.Mutex
	deleted []string
}

func (r *recordingThumbs) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deleted = append(r.deleted, id)
	return nil
}

func TestPollerToleratesCaptureBeforePromotion(t *testing.T) {
	e := newEnv(t)
	s := e.createUpload(t, "AAAAAAAAAAAA")
	e.remote.SetStatus("g1", stream.StatusFinished)

	p := NewPoller(PollerConfig{LibraryID: e.remote.Library}, e.store, &interceptStream{
		StreamClient: e.remote,
		before: func() {
			ok, err := e.lifecycle.CaptureUpload(context.Background(), "AAAAAAAAAAAA", s.Credential.Signature)
			require.NoError(t, err)
			require.True(t, ok)
		},
	})

	report := runOnce(t, p)
	assert.Nil(t, report.Errors)
	assert.Equal(t, OutcomePromoted, report.Uploads["AAAAAAAAAAAA"])

	assert.Zero(t, e.uploadCount(t))
	assert.Equal(t, 1, e.videoCount(t))
}
