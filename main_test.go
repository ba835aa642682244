package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stopFunc func(ctx context.Context) error

func (f stopFunc) Stop(ctx context.Context) error { return f(ctx) }

func TestStopPollerLogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(zap.ReplaceGlobals(zap.New(core)))

	stopPoller(context.Background(), stopFunc(func(context.Context) error {
		return context.DeadlineExceeded
	}))

	entries := logs.FilterMessage("Failed to stop poller").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
		err, _ := entries[0].ContextMap()["error"].(string)
		assert.Equal(t, context.DeadlineExceeded.Error(), err)
	}
}

func TestStopPollerQuietOnSuccess(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(zap.ReplaceGlobals(zap.New(core)))

	called := false
	stopPoller(context.Background(), stopFunc(func(context.Context) error {
		called = true
		return nil
	}))

	assert.True(t, called)
	assert.Zero(t, logs.Len())
}

