// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/retrovue/playoutd/internal/log"
)

// debounceWindow coalesces the burst of fsnotify events a single atomic
// config-file replace (write-to-tmp + rename) tends to generate.
const debounceWindow = 500 * time.Millisecond

// Holder holds the current AppConfig with atomic reloading, the same
// watch-directory-not-file shape the teacher uses so editors that
// replace-by-rename (vim, atomic config deploys) are still observed.
type Holder struct {
	path     string
	dir      string
	file     string
	snapshot atomic.Pointer[AppConfig]
	epoch    atomic.Uint64
	watcher  *fsnotify.Watcher

	listenersMu sync.RWMutex
	listeners   []chan<- AppConfig
}

// NewHolder loads path once and returns a Holder primed with the initial
// config. Load failures are fatal at construction (spec.md §7 ConfigError).
func NewHolder(path string) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	h := &Holder{path: path, dir: filepath.Dir(path), file: filepath.Base(path)}
	h.store(cfg)
	return h, nil
}

func (h *Holder) store(cfg AppConfig) {
	h.epoch.Add(1)
	h.snapshot.Store(&cfg)
}

// Get returns the current config (thread-safe read).
func (h *Holder) Get() AppConfig {
	p := h.snapshot.Load()
	if p == nil {
		return AppConfig{}
	}
	return *p
}

// Epoch returns the number of successful loads, including the initial one.
func (h *Holder) Epoch() uint64 {
	return h.epoch.Load()
}

// Reload re-parses the config file and swaps the snapshot on success. A
// failed reload keeps the previous snapshot in place (spec.md §7:
// ConfigError must not tear down an already-running channel).
func (h *Holder) Reload() error {
	cfg, err := Load(h.path)
	if err != nil {
		return fmt.Errorf("config reload: %w", err)
	}
	h.store(cfg)

	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
		}
	}
	return nil
}

// RegisterListener registers a channel to receive the new config after
// every successful reload. The caller owns the channel's lifetime.
func (h *Holder) RegisterListener(ch chan<- AppConfig) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

// Watch starts an fsnotify watch on the config file's directory (so
// atomic replace-by-rename is observed) and reloads on change, debounced.
// It blocks until ctx is cancelled, so callers should run it in its own
// goroutine.
func (h *Holder) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: create watcher: %w", err)
	}
	h.watcher = watcher
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(h.dir); err != nil {
		return fmt.Errorf("config watch: watch dir %s: %w", h.dir, err)
	}
	log.L().Info().Str("path", h.path).Msg("config: watching for changes")

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.L().Info().Msg("config: watcher stopped")
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != h.file {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWindow, func() {
				if err := h.Reload(); err != nil {
					log.L().Error().Err(err).Msg("config: automatic reload failed")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.L().Error().Err(err).Msg("config: watcher error")
		}
	}
}
