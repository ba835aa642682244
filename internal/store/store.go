// Package store persists pending uploads and catalog videos. Both live in
// the same database so promotion can move a row between them atomically.
package store

import (
	"context"
	"errors"
	"fmt"

	"openbroadcast/stream-api/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrDuplicateID = errors.New("duplicate id")
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// InsertUpload stores a new pending upload. A second upload with the same
// ID fails with ErrDuplicateID.
func (s *Store) InsertUpload(ctx context.Context, u *model.Upload) error {
	err := s.db.WithContext(ctx).Create(u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateID
		}

		return fmt.Errorf("failed to insert upload, %w", err)
	}

	return nil
}

func (s *Store) FindUpload(ctx context.Context, id string) (*model.Upload, error) {
	var u model.Upload

	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&u).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to find upload, %w", err)
	}

	return &u, nil
}

func (s *Store) UploadExists(ctx context.Context, id string) (bool, error) {
	var count int64

	err := s.db.WithContext(ctx).
		Model(model.Upload{}).
		Where("id = ?", id).
		Count(&count).
		Error
	if err != nil {
		return false, fmt.Errorf("failed to check upload, %w", err)
	}

	return count > 0, nil
}

// DeleteUpload removes a pending upload. Deleting a missing row is not an error.
func (s *Store) DeleteUpload(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(model.Upload{}).
		Error
	if err != nil {
		return fmt.Errorf("failed to delete upload, %w", err)
	}

	return nil
}

// ListUploads returns every pending upload, oldest first
func (s *Store) ListUploads(ctx context.Context) ([]model.Upload, error) {
	var uploads []model.Upload

	err := s.db.WithContext(ctx).
		Order("created_at asc").
		Order("id asc").
		Find(&uploads).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads, %w", err)
	}

	return uploads, nil
}

// InsertVideo adds a video to the catalog unless one with the same ID is
// already there. created is false when the video existed.
func (s *Store) InsertVideo(ctx context.Context, v *model.Video) (created bool, err error) {
	return insertVideo(s.db.WithContext(ctx), v)
}

func insertVideo(tx *gorm.DB, v *model.Video) (bool, error) {
	var count int64

	err := tx.
		Model(model.Video{}).
		Where("id = ?", v.ID).
		Count(&count).
		Error
	if err != nil {
		return false, fmt.Errorf("failed to check video, %w", err)
	}

	if count > 0 {
		return false, nil
	}

	// The count above narrows the window but two writers can still pass it
	// at the same time. ON CONFLICT keeps the loser from failing.
	res := tx.
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(v)
	if res.Error != nil {
		return false, fmt.Errorf("failed to insert video, %w", res.Error)
	}

	return res.RowsAffected > 0, nil
}

func (s *Store) FindVideo(ctx context.Context, id string) (*model.Video, error) {
	var v model.Video

	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&v).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to find video, %w", err)
	}

	return &v, nil
}

func (s *Store) VideoExists(ctx context.Context, id string) (bool, error) {
	var count int64

	err := s.db.WithContext(ctx).
		Model(model.Video{}).
		Where("id = ?", id).
		Count(&count).
		Error
	if err != nil {
		return false, fmt.Errorf("failed to check video, %w", err)
	}

	return count > 0, nil
}

// DeleteVideo removes a video from the catalog. Deleting a missing row is
// not an error.
func (s *Store) DeleteVideo(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(model.Video{}).
		Error
	if err != nil {
		return fmt.Errorf("failed to delete video, %w", err)
	}

	return nil
}

func (s *Store) ListVideos(ctx context.Context) ([]model.Video, error) {
	var videos []model.Video

	err := s.db.WithContext(ctx).
		Order("id asc").
		Find(&videos).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to list videos, %w", err)
	}

	return videos, nil
}

// PageVideos returns a page of the catalog, newest first
func (s *Store) PageVideos(ctx context.Context, offset, limit int) ([]model.Video, error) {
	var videos []model.Video

	err := s.db.WithContext(ctx).
		Order("created_at desc").
		Order("id asc").
		Offset(offset).
		Limit(limit).
		Find(&videos).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to page videos, %w", err)
	}

	return videos, nil
}

// Promote moves an upload into the catalog. The pending row is deleted
// before the video is written, and the video is only written if it doesn't
// exist yet, so racing promotions of the same ID leave exactly one video.
// Both steps share a transaction and roll back together. ErrNotFound means
// the pending row was already gone and nothing was written.
func (s *Store) Promote(ctx context.Context, v *model.Video) (created bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", v.ID).Delete(model.Upload{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete upload, %w", res.Error)
		}

		// Someone else promoted or dropped it in the meantime
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		created, err = insertVideo(tx, v)
		return err
	})
	if err != nil {
		return false, err
	}

	return created, nil
}
