package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"openbroadcast/stream-api/internal/model"
	"openbroadcast/stream-api/internal/store"
	"openbroadcast/stream-api/internal/stream"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrCycleInProgress = errors.New("reconciliation cycle already running")
	ErrPollerStarted   = errors.New("poller already started")
)

// Outcome is what a cycle did with a pending upload
type Outcome int

const (
	// Still processing remotely and the credential is valid
	OutcomeRetained Outcome = iota
	// Moved to the catalog
	OutcomePromoted
	// Credential expired before the remote finished
	OutcomeExpired
	// Remote gave up on the video
	OutcomeRemoteFailed
	// Remote has never heard of the video
	OutcomeOrphaned
	// Left alone because of a transient remote or store failure
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRetained:
		return "retained"
	case OutcomePromoted:
		return "promoted"
	case OutcomeExpired:
		return "expired"
	case OutcomeRemoteFailed:
		return "remote_failed"
	case OutcomeOrphaned:
		return "orphaned"
	default:
		return "skipped"
	}
}

// CycleReport sums up one reconciliation cycle
type CycleReport struct {
	StartedAt time.Time
	Duration  time.Duration
	// Another instance holds the lock, nothing was done
	LockHeld bool

	// Outcome per pending upload ID
	Uploads map[string]Outcome

	// Library audit
	Audited        bool
	LocalPruned    int
	RemoteDeleted  int
	RemoteInFlight int
	RemoteUntagged int

	// Per record failures, each left for the next cycle
	Errors error
}

// Fields summarizes the report for logging
func (r *CycleReport) Fields() []zap.Field {
	return []zap.Field{
		zap.Duration("took", r.Duration),
		zap.Int("promoted", r.Count(OutcomePromoted)),
		zap.Int("expired", r.Count(OutcomeExpired)),
		zap.Int("remote_failed", r.Count(OutcomeRemoteFailed)),
		zap.Int("orphaned", r.Count(OutcomeOrphaned)),
		zap.Int("retained", r.Count(OutcomeRetained)),
		zap.Int("skipped", r.Count(OutcomeSkipped)),
		zap.Bool("audited", r.Audited),
		zap.Int("local_pruned", r.LocalPruned),
		zap.Int("remote_deleted", r.RemoteDeleted),
		zap.Int("failures", len(multierr.Errors(r.Errors))),
	}
}

func (r *CycleReport) Count(o Outcome) int {
	n := 0
	for _, v := range r.Uploads {
		if v == o {
			n++
		}
	}

	return n
}

type PollerConfig struct {
	LibraryID string
	Interval  time.Duration
	// The first cycle starts after a random delay in [JitterMin, JitterMax)
	// so restarted instances don't poll in lockstep
	JitterMin time.Duration
	JitterMax time.Duration
}

type PollerOption func(*Poller)

// WithLocker makes every cycle take l first and skip when it can't
func WithLocker(l Locker) PollerOption {
	return func(p *Poller) { p.locker = l }
}

// WithThumbnails removes posters of videos dropped from the catalog
func WithThumbnails(t ThumbnailRemover) PollerOption {
	return func(p *Poller) { p.thumbs = t }
}

// Poller reconciles local uploads and videos with the streaming service
// on a fixed interval
type Poller struct {
	cfg    PollerConfig
	store  Store
	stream StreamClient
	locker Locker
	thumbs ThumbnailRemover
	now    func() time.Time
	log    *zap.Logger

	// Held for the duration of a cycle
	cycle sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(cfg PollerConfig, s Store, c StreamClient, opts ...PollerOption) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}

	p := &Poller{
		cfg:    cfg,
		store:  s,
		stream: c,
		now:    time.Now,
		log:    zap.L().Named("poller"),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start schedules cycles until ctx is done or Stop is called
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return ErrPollerStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	logger := cronLogger{p.log.Sugar()}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(cron.Every(p.cfg.Interval), cron.FuncJob(func() { p.tick(ctx) }))

	jitter := p.jitter()
	p.log.Debug("Poller attached", zap.Duration("tick_every", p.cfg.Interval), zap.Duration("first_in", jitter))

	go func() {
		defer close(p.done)

		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			return
		}

		p.tick(ctx)
		c.Start()

		<-ctx.Done()
		<-c.Stop().Done()
	}()

	return nil
}

// Stop cancels scheduling and waits for a running cycle to finish, or for
// ctx to expire
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	select {
	case <-done:
		p.log.Debug("Poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) jitter() time.Duration {
	lo, hi := p.cfg.JitterMin, p.cfg.JitterMax
	if hi <= lo {
		return max(lo, 0)
	}

	return lo + rand.N(hi-lo)
}

func (p *Poller) tick(ctx context.Context) {
	report, err := p.RunOnce(ctx)
	if err != nil {
		if errors.Is(err, ErrCycleInProgress) || errors.Is(err, context.Canceled) {
			p.log.Debug("Skipping reconciliation cycle", zap.Error(err))
			return
		}

		p.log.Error("Reconciliation cycle abandoned", zap.Error(err))
		return
	}

	if report.LockHeld {
		p.log.Debug("Reconciliation lock held elsewhere, skipping cycle")
		return
	}

	p.log.Info("Reconciliation cycle finished", report.Fields()...)
}

// RunOnce runs a single reconciliation cycle. Only one cycle runs at a
// time, a concurrent call gets ErrCycleInProgress. The returned error is
// only set when the whole cycle had to be abandoned, per record failures
// are collected in the report.
func (p *Poller) RunOnce(ctx context.Context) (*CycleReport, error) {
	if !p.cycle.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer p.cycle.Unlock()

	report := &CycleReport{
		StartedAt: p.now(),
		Uploads:   map[string]Outcome{},
	}

	if p.locker != nil {
		release, acquired, err := p.locker.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire reconciliation lock, %w", err)
		}
		if !acquired {
			report.LockHeld = true
			return report, nil
		}
		defer release()
	}

	uploads, err := p.store.ListUploads(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending uploads, %w", err)
	}

	for i := range uploads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		u := &uploads[i]
		outcome, err := p.advance(ctx, u)
		report.Uploads[u.ID] = outcome

		if err != nil {
			report.Errors = multierr.Append(report.Errors, fmt.Errorf("upload %s: %w", u.ID, err))
			p.log.Warn("Pending upload left for next cycle", zap.String("video_id", u.ID), zap.Error(err))
			continue
		}

		p.log.Debug("Pending upload checked", zap.String("video_id", u.ID), zap.Stringer("outcome", outcome))
	}

	if err := p.audit(ctx, report); err != nil {
		report.Errors = multierr.Append(report.Errors, fmt.Errorf("library audit: %w", err))
	}

	report.Duration = p.now().Sub(report.StartedAt)
	return report, nil
}

// advance moves a single pending upload along according to what the
// streaming service says about it. Rows are only deleted on a definite
// answer, any failure leaves the upload for the next cycle.
func (p *Poller) advance(ctx context.Context, u *model.Upload) (Outcome, error) {
	guid := u.Metadata.GUID
	if guid == "" {
		return p.drop(ctx, u, OutcomeOrphaned)
	}

	remote, err := p.stream.RetrieveVideo(ctx, guid)
	if err != nil {
		if errors.Is(err, stream.ErrNotFound) {
			return p.drop(ctx, u, OutcomeOrphaned)
		}

		return OutcomeSkipped, fmt.Errorf("failed to retrieve remote video %s, %w", guid, err)
	}

	switch remote.Status.Band() {
	case stream.BandInProgress:
		if u.Signature.Expired(p.now().Unix()) {
			return p.drop(ctx, u, OutcomeExpired)
		}

		return OutcomeRetained, nil
	case stream.BandReady:
		created, err := p.store.Promote(ctx, buildVideo(u, remote, p.now()))
		if errors.Is(err, store.ErrNotFound) {
			p.log.Debug("Upload captured before the cycle got to it", zap.String("video_id", u.ID), zap.String("guid", guid))
			return OutcomePromoted, nil
		}
		if err != nil {
			return OutcomeSkipped, err
		}

		p.log.Info("Upload promoted", zap.String("video_id", u.ID), zap.String("guid", guid), zap.Bool("created", created))
		return OutcomePromoted, nil
	default:
		return p.drop(ctx, u, OutcomeRemoteFailed)
	}
}

func (p *Poller) drop(ctx context.Context, u *model.Upload, o Outcome) (Outcome, error) {
	if err := p.store.DeleteUpload(ctx, u.ID); err != nil {
		return OutcomeSkipped, err
	}

	p.log.Info("Pending upload dropped", zap.String("video_id", u.ID), zap.String("guid", u.Metadata.GUID), zap.Stringer("reason", o))
	return o, nil
}

// audit compares the remote library with the catalog and repairs drift in
// both directions. The streaming service is the source of truth.
func (p *Poller) audit(ctx context.Context, report *CycleReport) error {
	remote, err := p.stream.ListVideos(ctx, p.cfg.LibraryID)
	if err != nil {
		return fmt.Errorf("failed to list remote library, %w", err)
	}

	local, err := p.store.ListVideos(ctx)
	if err != nil {
		return fmt.Errorf("failed to list catalog, %w", err)
	}

	report.Audited = true

	remoteGUIDs := make(map[string]struct{}, len(remote))
	for _, v := range remote {
		remoteGUIDs[v.GUID] = struct{}{}
	}

	localIDs := make(map[string]struct{}, len(local))
	localGUIDs := make(map[string]struct{}, len(local))

	for _, v := range local {
		if _, ok := remoteGUIDs[v.Metadata.GUID]; ok {
			localIDs[v.ID] = struct{}{}
			localGUIDs[v.Metadata.GUID] = struct{}{}
			continue
		}

		// Dead entry, the streaming service no longer has the video
		if err := p.store.DeleteVideo(ctx, v.ID); err != nil {
			report.Errors = multierr.Append(report.Errors, fmt.Errorf("video %s: %w", v.ID, err))
			continue
		}

		report.LocalPruned++
		p.log.Info("Removed video missing from remote library", zap.String("video_id", v.ID), zap.String("guid", v.Metadata.GUID))

		if p.thumbs != nil {
			if err := p.thumbs.Delete(ctx, v.ID); err != nil {
				p.log.Warn("Failed to delete thumbnail of removed video", zap.String("video_id", v.ID), zap.Error(err))
			}
		}
	}

	for i := range remote {
		v := &remote[i]

		id, ok := v.LocalID()
		if !ok {
			report.RemoteUntagged++
			p.log.Debug("Remote video has no video_id tag", zap.String("guid", v.GUID))
			continue
		}

		switch v.Status.Band() {
		case stream.BandReady:
			_, knownID := localIDs[id]
			_, knownGUID := localGUIDs[v.GUID]
			if knownID || knownGUID {
				continue
			}

			// Finished remotely but not promoted yet, pass A gets to it
			pending, err := p.store.UploadExists(ctx, id)
			if err != nil {
				report.Errors = multierr.Append(report.Errors, fmt.Errorf("remote %s: %w", v.GUID, err))
				continue
			}
			if pending {
				report.RemoteInFlight++
				continue
			}

			p.deleteRemote(ctx, report, v, id, "orphaned")
		case stream.BandFailed:
			p.deleteRemote(ctx, report, v, id, "failed")
		}
	}

	return nil
}

func (p *Poller) deleteRemote(ctx context.Context, report *CycleReport, v *stream.Video, id, reason string) {
	if err := p.stream.DeleteVideo(ctx, v.GUID); err != nil {
		report.Errors = multierr.Append(report.Errors, fmt.Errorf("remote %s: %w", v.GUID, err))
		return
	}

	report.RemoteDeleted++
	p.log.Info("Removed remote video", zap.String("video_id", id), zap.String("guid", v.GUID), zap.String("reason", reason))
}

// cronLogger routes the scheduler's own logs to zap
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
