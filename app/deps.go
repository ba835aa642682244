package app

import (
	"context"
	"fmt"

	"openbroadcast/stream-api/aws"
	"openbroadcast/stream-api/db"
	"openbroadcast/stream-api/internal"
	"openbroadcast/stream-api/internal/lock"
	"openbroadcast/stream-api/internal/service"
	"openbroadcast/stream-api/internal/store"
	"openbroadcast/stream-api/internal/stream"

	v "github.com/spf13/viper"
	"go.uber.org/zap"
)

// NewDeps builds everything the handlers and the poller need from the
// loaded config
func NewDeps(ctx context.Context) (*internal.Deps, error) {
	d := &internal.Deps{}

	conn, err := db.New(db.Config{
		Driver: v.GetString("db.driver"),
		DSN:    v.GetString("db.dsn"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database, %w", err)
	}
	d.DB = conn

	d.Store = store.New(conn)

	client, err := stream.NewClient(stream.Config{
		Endpoint:      v.GetString("stream.endpoint"),
		LibraryID:     v.GetString("stream.library_id"),
		APIKey:        v.GetString("stream.api_key"),
		Timeout:       v.GetDuration("stream.timeout"),
		CredentialTTL: v.GetDuration("stream.credential_ttl"),
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to initialize stream client, %w", err)
	}
	d.Stream = client

	d.IDs = service.NewIDs(d.Store)
	d.Lifecycle = service.NewLifecycle(service.LifecycleConfig{
		LibraryID:          client.LibraryID(),
		PullZoneRoot:       v.GetString("stream.pull_zone_root"),
		CDNHostname:        v.GetString("stream.cdn_hostname"),
		DefaultDescription: v.GetString("upload.default_description"),
	}, d.Store, client)

	opts := []service.PollerOption{}

	if v.GetBool("storage.enabled") {
		s3, err := aws.NewS3(ctx, aws.S3Config{
			Bucket:          v.GetString("storage.bucket"),
			Region:          v.GetString("storage.region"),
			Endpoint:        v.GetString("storage.endpoint"),
			AccessKey:       v.GetString("storage.access_key"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			R2AccountID:     v.GetString("storage.r2_account_id"),
		})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to initialize S3 client, %w", err)
		}

		d.Thumbnails = service.NewThumbnails(s3.C, s3.Bucket, v.GetInt64("thumbnail.max_size")<<20)
		opts = append(opts, service.WithThumbnails(d.Thumbnails))
	}

	if url := v.GetString("poller.lock.redis_url"); url != "" {
		rdb, err := lock.Dial(ctx, url)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Redis = rdb

		opts = append(opts, service.WithLocker(lock.NewRedis(rdb, lock.DefaultKey, v.GetDuration("poller.lock.ttl"))))
		zap.L().Info("Reconciliation lock enabled", zap.String("key", lock.DefaultKey))
	}

	d.Poller = service.NewPoller(service.PollerConfig{
		LibraryID: client.LibraryID(),
		Interval:  v.GetDuration("poller.interval"),
		JitterMin: v.GetDuration("poller.jitter_min"),
		JitterMax: v.GetDuration("poller.jitter_max"),
	}, d.Store, client, opts...)

	return d, nil
}
