// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package blockplan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/retrovue/playoutd/internal/log"
)

const txLogKeyPrefix = "block:"

// txLogRecord is the persisted shape keyed by block_id (spec.md §6
// "Persisted state"): channel, UTC start/end, the filled segment array,
// and the fill time. It does not store a broadcast day.
type txLogRecord struct {
	BlockID       string    `json:"block_id"`
	Channel       string    `json:"channel"`
	StartUTCMs    int64     `json:"start_utc_ms"`
	EndUTCMs      int64     `json:"end_utc_ms"`
	Segments      []Segment `json:"segments"`
	FilledAtUTCMs int64     `json:"filled_at_utc_ms"`
}

// BadgerTransmissionLog is the durable TransmissionLog backing: an
// embedded ordered KV store, a natural fit for a write-once-per-block,
// read-by-key log with bounded retention.
type BadgerTransmissionLog struct {
	db *badger.DB
}

func OpenBadgerTransmissionLog(dir string) (*BadgerTransmissionLog, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open transmission log: %w", err)
	}
	return &BadgerTransmissionLog{db: db}, nil
}

func (l *BadgerTransmissionLog) Close() error {
	return l.db.Close()
}

func (l *BadgerTransmissionLog) Put(_ context.Context, block ScheduledBlock, filledAtUTCMs int64) error {
	rec := txLogRecord{
		BlockID: block.BlockID, Channel: block.Channel,
		StartUTCMs: block.StartUTCMs, EndUTCMs: block.EndUTCMs,
		Segments: block.Segments, FilledAtUTCMs: filledAtUTCMs,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal transmission log record: %w", err)
	}
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(txLogKeyPrefix+block.BlockID), data)
	})
}

// Get returns the filled block persisted under blockID, if any.
func (l *BadgerTransmissionLog) Get(blockID string) (*txLogRecord, bool, error) {
	var rec txLogRecord
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(txLogKeyPrefix + blockID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get transmission log record: %w", err)
	}
	return &rec, true, nil
}

var _ TransmissionLog = (*BadgerTransmissionLog)(nil)

// RetentionSweeper prunes transmission log entries older than Retention,
// mirroring the lease-expiry ticker-worker shape used elsewhere in the
// pack for background TTL enforcement.
type RetentionSweeper struct {
	Log       *BadgerTransmissionLog
	Retention time.Duration
	Interval  time.Duration
}

func (s *RetentionSweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.L().Info().Dur("interval", interval).Dur("retention", s.Retention).Msg("transmission log retention sweeper started")

	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-ctx.Done():
			log.L().Info().Msg("transmission log retention sweeper stopped")
			return ctx.Err()
		}
	}
}

func (s *RetentionSweeper) sweepOnce() {
	retention := s.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	cutoff := time.Now().Add(-retention).UnixMilli()
	var expired [][]byte

	err := s.Log.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(txLogKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec txLogRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				continue
			}
			if rec.FilledAtUTCMs < cutoff {
				expired = append(expired, append([]byte(nil), item.Key()...))
			}
		}
		return nil
	})
	if err != nil {
		log.L().Error().Err(err).Msg("transmission log retention scan failed")
		return
	}
	if len(expired) == 0 {
		return
	}

	err = s.Log.db.Update(func(txn *badger.Txn) error {
		for _, key := range expired {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.L().Error().Err(err).Msg("transmission log retention delete failed")
		return
	}
	log.L().Info().Int("expired", len(expired)).Msg("pruned expired transmission log entries")
}
