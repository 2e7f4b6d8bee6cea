// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolderReloadSwapsSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validDoc)

	h, err := NewHolder(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h.Epoch())
	assert.Equal(t, 3, h.Get().Channels[0].QueueDepth)

	require.NoError(t, os.WriteFile(path, []byte(validDoc+"debug_enabled: true\n"), 0o600))

	require.NoError(t, h.Reload())
	assert.Equal(t, uint64(2), h.Epoch())
	assert.True(t, h.Get().DebugEnabled)
}

func TestHolderReloadKeepsPreviousSnapshotOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validDoc)

	h, err := NewHolder(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o600))
	err = h.Reload()
	require.Error(t, err)

	assert.Equal(t, uint64(1), h.Epoch())
	require.Len(t, h.Get().Channels, 1)
}

func TestHolderWatchPicksUpFileReplace(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validDoc)

	h, err := NewHolder(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Watch(ctx) }()

	time.Sleep(50 * time.Millisecond) // let the watcher register before the write races it
	require.NoError(t, os.WriteFile(path, []byte(validDoc+"debug_enabled: true\n"), 0o600))

	require.Eventually(t, func() bool {
		return h.Get().DebugEnabled
	}, 3*time.Second, 25*time.Millisecond, "watcher must pick up the replaced config file")
}

func TestHolderRegisterListenerReceivesReloadedConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validDoc)

	h, err := NewHolder(path)
	require.NoError(t, err)

	ch := make(chan AppConfig, 1)
	h.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte(validDoc+"debug_enabled: true\n"), 0o600))
	require.NoError(t, h.Reload())

	select {
	case cfg := <-ch:
		assert.True(t, cfg.DebugEnabled)
	case <-time.After(time.Second):
		t.Fatal("listener never received reloaded config")
	}
}
