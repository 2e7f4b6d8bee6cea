// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package blockplan

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *BadgerTransmissionLog {
	t.Helper()
	log, err := OpenBadgerTransmissionLog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestBadgerTransmissionLogPutGetRoundTrip(t *testing.T) {
	log := openTestLog(t)
	blk := ScheduledBlock{
		BlockID: "blk-1", Channel: "ch1", StartUTCMs: 1000, EndUTCMs: 2000,
		Segments: []Segment{{Index: 0, AssetURI: "asset://a", SegmentDurationMs: 1000, Type: SegmentContent}},
	}

	require.NoError(t, log.Put(context.Background(), blk, 1500))

	rec, ok, err := log.Get("blk-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blk.Channel, rec.Channel)
	assert.Equal(t, blk.StartUTCMs, rec.StartUTCMs)
	assert.Equal(t, blk.EndUTCMs, rec.EndUTCMs)
	assert.Equal(t, blk.Segments, rec.Segments)
	assert.Equal(t, int64(1500), rec.FilledAtUTCMs)
}

func TestBadgerTransmissionLogGetMissingKey(t *testing.T) {
	log := openTestLog(t)

	_, ok, err := log.Get("does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBadgerTransmissionLogExportSnapshotIsAtomicAndComplete(t *testing.T) {
	log := openTestLog(t)
	for i, id := range []string{"blk-1", "blk-2", "blk-3"} {
		blk := ScheduledBlock{BlockID: id, Channel: "ch1", StartUTCMs: int64(i * 1000), EndUTCMs: int64((i + 1) * 1000)}
		require.NoError(t, log.Put(context.Background(), blk, int64(i*1000)))
	}

	out := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, log.ExportSnapshot(out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var records []txLogRecord
	require.NoError(t, json.Unmarshal(data, &records))
	assert.Len(t, records, 3)

	// Re-exporting to the same path must replace it atomically, never
	// leaving a half-written file behind.
	require.NoError(t, log.ExportSnapshot(out))
	data2, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, data2)
}
