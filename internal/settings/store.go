// Package settings persists the room configuration and serves it as
// immutable snapshots. Writes replace the snapshot wholesale.
package settings

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const DefaultDebounce = 100 * time.Millisecond

var ErrNilSettings = errors.New("nil settings")

type Store struct {
	path     string
	debounce time.Duration

	cur atomic.Pointer[domain.Settings]

	// mu serializes writers and guards digest and listeners.
	mu        sync.Mutex
	digest    [sha256.Size]byte
	listeners []func(*domain.Settings)
}

func NewStore(path string) *Store {
	s := &Store{path: path, debounce: DefaultDebounce}
	s.cur.Store(&domain.Settings{})
	return s
}

func (s *Store) Path() string { return s.path }

// Current never returns nil.
func (s *Store) Current() *domain.Settings {
	return s.cur.Load()
}

// OnChange registers fn for snapshots picked up from disk by Watch. It runs
// under the writer lock and must not write to the Store. Replace does not
// call listeners; its caller already has the new value.
func (s *Store) OnChange(fn func(*domain.Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Load reads the settings file. A missing file leaves an empty snapshot.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("module", "settings").Str("path", s.path).Msg("settings file not found, starting with no rooms")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	next, err := decode(raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.digest = sha256.Sum256(raw)
	s.cur.Store(next)
	s.mu.Unlock()

	log.Info().Str("module", "settings").Str("path", s.path).Int("rooms", len(next.Rooms)).Msg("settings loaded")
	return nil
}

// Replace validates next, writes it to disk and swaps it in. The new
// snapshot is visible to readers as soon as Replace returns.
func (s *Store) Replace(next *domain.Settings) error {
	return s.Apply(next, nil)
}

// Apply is Replace followed by fn(next), both under the writer lock. Calls
// to fn and to OnChange listeners run in the same order as the snapshots
// they receive were stored, so fn must not write to the Store.
func (s *Store) Apply(next *domain.Settings, fn func(*domain.Settings)) error {
	if next == nil {
		return ErrNilSettings
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	raw, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(s.path, raw); err != nil {
		return err
	}
	s.digest = sha256.Sum256(raw)
	s.cur.Store(next)
	log.Info().Str("module", "settings").Int("rooms", len(next.Rooms)).Msg("settings replaced")
	if fn != nil {
		fn(next)
	}
	return nil
}

// Update applies fn to a copy of the current snapshot and stores the result.
func (s *Store) Update(fn func(*domain.Settings)) (*domain.Settings, error) {
	next := s.Current().Clone()
	fn(next)
	if err := s.Replace(next); err != nil {
		return nil, err
	}
	return next, nil
}

// Watch reloads the file after external edits until ctx is done. Bursts of
// events are collapsed into one reload.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors and Replace swap the file by rename.
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	base := filepath.Base(s.path)
	log.Info().Str("module", "settings").Str("path", s.path).Msg("watching settings")

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(s.debounce, s.reload)
			} else {
				timer.Reset(s.debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Str("module", "settings").Msg("watcher error")
		}
	}
}

func (s *Store) reload() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		log.Error().Err(err).Str("module", "settings").Msg("reload read")
		return
	}

	s.mu.Lock()
	sum := sha256.Sum256(raw)
	if bytes.Equal(sum[:], s.digest[:]) {
		s.mu.Unlock()
		return
	}
	next, err := decode(raw)
	if err != nil {
		s.mu.Unlock()
		log.Error().Err(err).Str("module", "settings").Msg("reload rejected, keeping previous settings")
		return
	}
	s.digest = sum
	s.cur.Store(next)
	log.Info().Str("module", "settings").Int("rooms", len(next.Rooms)).Msg("settings reloaded")
	for _, fn := range s.listeners {
		fn(next)
	}
	s.mu.Unlock()
}

func decode(raw []byte) (*domain.Settings, error) {
	var next domain.Settings
	if err := json.Unmarshal(raw, &next); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &next, nil
}

func writeAtomic(path string, raw []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
