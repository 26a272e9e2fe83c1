package poolconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/kazz187/storyguild/internal/scheduler"
)

// DebounceInterval is how long the file must stay quiet before a reload.
const DebounceInterval = 100 * time.Millisecond

// Load reads a pool file. Unknown keys are rejected so typos surface at
// startup rather than silently keeping defaults.
func Load(path string) (scheduler.PoolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return scheduler.PoolConfig{}, fmt.Errorf("failed to read pool config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (scheduler.PoolConfig, error) {
	var cfg scheduler.PoolConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return scheduler.PoolConfig{}, fmt.Errorf("failed to parse pool config: %w", err)
	}
	if cfg.Size == 0 {
		cfg.Size = scheduler.DefaultPoolSize
	}
	if cfg.Size < 0 {
		return scheduler.PoolConfig{}, fmt.Errorf("%w: %d", scheduler.ErrInvalidPoolSize, cfg.Size)
	}
	return cfg, nil
}

type Initializer interface {
	Initialize(ctx context.Context, cfg scheduler.PoolConfig) error
}

// Watcher re-initializes the pool whenever the pool file changes.
type Watcher struct {
	path    string
	target  Initializer
	current scheduler.PoolConfig
}

func NewWatcher(path string, target Initializer, current scheduler.PoolConfig) *Watcher {
	return &Watcher{path: path, target: target, current: current}
}

// Run blocks until ctx is done. The parent directory is watched, not the
// file, so atomic replace-by-rename is picked up.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	name := filepath.Base(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	slog.Info("poolconfig: watching", "path", w.path)

	debounce := time.NewTimer(DebounceInterval)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(DebounceInterval)
		case <-debounce.C:
			w.reload(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("poolconfig: fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := Load(w.path)
	if err != nil {
		slog.Error("poolconfig: reload failed, keeping current pool", "path", w.path, "error", err)
		return
	}
	if cfg == w.current {
		slog.Debug("poolconfig: unchanged", "path", w.path)
		return
	}
	if err := w.target.Initialize(ctx, cfg); err != nil {
		slog.Error("poolconfig: re-initialize failed", "error", err)
		return
	}
	w.current = cfg
	slog.Info("poolconfig: pool re-initialized", "size", cfg.Size, "text_model", cfg.Agent.TextModel, "image_model", cfg.Agent.ImageModel)
}
