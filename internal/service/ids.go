package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const (
	IDLength   = 12
	IDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// 62^12 ids make a collision streak this long a sign of a broken
	// random source or store, not bad luck
	maxIDAttempts = 8
)

var ErrIDSpaceExhausted = errors.New("failed to find a free video id")

// ValidID reports whether id has the shape of a video ID
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}

	for i := 0; i < len(id); i++ {
		if !strings.ContainsRune(IDAlphabet, rune(id[i])) {
			return false
		}
	}

	return true
}

type idChecker interface {
	VideoExists(ctx context.Context, id string) (bool, error)
	UploadExists(ctx context.Context, id string) (bool, error)
}

// IDs hands out video IDs that aren't used by the catalog or a pending upload
type IDs struct {
	store    idChecker
	generate func() (string, error)
}

func NewIDs(s idChecker) *IDs {
	return &IDs{
		store: s,
		generate: func() (string, error) {
			return gonanoid.Generate(IDAlphabet, IDLength)
		},
	}
}

func (g *IDs) Generate(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id, err := g.generate()
		if err != nil {
			return "", fmt.Errorf("failed to generate id, %w", err)
		}

		taken, err := g.taken(ctx, id)
		if err != nil {
			return "", fail(KindStore, ReasonStoreFailed, "Failed to check if the id is taken", nil, err)
		}

		if !taken {
			return id, nil
		}

		zap.L().Warn("Generated video id already taken", zap.String("video_id", id), zap.Int("attempt", attempt))
	}

	zap.L().Error("Video id generation exhausted", zap.Int("attempts", maxIDAttempts))
	return "", fail(KindStore, ReasonIDSpaceExhausted, "Could not generate a free video id", nil, ErrIDSpaceExhausted)
}

func (g *IDs) taken(ctx context.Context, id string) (bool, error) {
	exists, err := g.store.VideoExists(ctx, id)
	if err != nil || exists {
		return exists, err
	}

	return g.store.UploadExists(ctx, id)
}
