package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrNoArtifact means no session artifact exists on disk yet. Callers map this
// to a not-authenticated condition rather than a hard failure.
var ErrNoArtifact = errors.New("no session artifact on disk")

// Store persists and serves the session artifact. It caches the last loaded
// copy and can watch the backing file so an artifact refreshed out-of-band (by
// the auth CLI, while the server runs) is picked up without a restart.
type Store struct {
	path   string
	maxAge time.Duration
	logger *zap.Logger

	mu      sync.RWMutex
	current *Artifact

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewStore creates a store for the artifact at path. Nothing is read until
// Load is called.
func NewStore(path string, maxAge time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:   path,
		maxAge: maxAge,
		logger: logger.Named("auth"),
	}
}

// Path returns the artifact location on disk.
func (s *Store) Path() string {
	return s.path
}

// Load reads and caches the artifact from disk. Missing files surface
// ErrNoArtifact; unreadable or structurally invalid files surface a wrapped
// error so the caller can distinguish "never logged in" from "corrupt".
func (s *Store) Load() (*Artifact, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoArtifact
		}
		return nil, fmt.Errorf("reading artifact %s: %w", s.path, err)
	}

	var artifact Artifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, fmt.Errorf("parsing artifact %s: %w", s.path, err)
	}
	if artifact.Version > ArtifactVersion {
		return nil, fmt.Errorf("artifact version %d newer than supported %d", artifact.Version, ArtifactVersion)
	}
	if artifact.Cookies == nil {
		artifact.Cookies = make(map[string]string)
	}

	s.mu.Lock()
	s.current = &artifact
	s.mu.Unlock()

	return &artifact, nil
}

// Save persists the artifact atomically-enough for a single-writer file:
// parent dir created, temp write, rename. Mode 0600 since these are live
// credentials.
func (s *Store) Save(artifact *Artifact) error {
	if artifact == nil {
		return errors.New("cannot save nil artifact")
	}
	if artifact.Version == 0 {
		artifact.Version = ArtifactVersion
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}

	raw, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding artifact: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing artifact: %w", err)
	}

	s.mu.Lock()
	s.current = artifact
	s.mu.Unlock()

	s.logger.Info("session artifact saved",
		zap.String("path", s.path),
		zap.Int("cookies", len(artifact.Cookies)))
	return nil
}

// Current returns the cached artifact without touching disk, or nil if nothing
// has been loaded or saved yet.
func (s *Store) Current() *Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Check validates the cached (or freshly loaded) artifact against the
// configured max age.
func (s *Store) Check() error {
	artifact := s.Current()
	if artifact == nil {
		var err error
		artifact, err = s.Load()
		if err != nil {
			return err
		}
	}
	return artifact.Check(s.maxAge)
}

// Delete removes the artifact from disk and cache. Used by logout.
func (s *Store) Delete() error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing artifact: %w", err)
	}
	return nil
}

// Watch starts a filesystem watch on the artifact and invokes onReload with
// each successfully re-loaded artifact. Events are debounced so an editor or
// CLI writing in multiple syscalls triggers one reload.
func (s *Store) Watch(ctx context.Context, onReload func(*Artifact)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return fmt.Errorf("creating artifact dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	s.mu.Lock()
	if s.watcher != nil {
		s.mu.Unlock()
		watcher.Close()
		return errors.New("watch already running")
	}
	s.watcher = watcher
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.watchLoop(ctx, onReload)
	s.logger.Info("watching session artifact", zap.String("path", s.path))
	return nil
}

func (s *Store) watchLoop(ctx context.Context, onReload func(*Artifact)) {
	defer close(s.doneCh)

	const debounce = 500 * time.Millisecond
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(debounce)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("artifact watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			artifact, err := s.Load()
			if err != nil {
				s.logger.Warn("artifact changed on disk but reload failed", zap.Error(err))
				continue
			}
			s.logger.Info("session artifact reloaded from disk",
				zap.Duration("age", artifact.Age()))
			if onReload != nil {
				onReload(artifact)
			}
		}
	}
}

// Close stops the watcher if one is running.
func (s *Store) Close() {
	s.mu.Lock()
	watcher := s.watcher
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.watcher = nil
	s.mu.Unlock()

	if watcher == nil {
		return
	}
	close(stopCh)
	<-doneCh
	if err := watcher.Close(); err != nil {
		s.logger.Warn("closing artifact watcher", zap.Error(err))
	}
}
