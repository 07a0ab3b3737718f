// Package files keeps uploaded attachments on local disk for a limited time.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const keepFile = ".gitignore"

var (
	ErrNotFound  = errors.New("file not found")
	ErrInvalidID = errors.New("invalid file id")
)

type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("upload dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func (s *Store) Dir() string { return s.dir }

// Save stores r under a fresh random name that keeps the original extension.
func (s *Store) Save(r io.Reader, originalName string) (string, error) {
	id := uuid.NewString() + sanitizeExt(filepath.Ext(originalName))
	f, err := os.OpenFile(filepath.Join(s.dir, id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write upload: %w", err)
	}
	log.Info().Str("module", "files").Str("file_id", id).Msg("stored upload")
	return id, nil
}

// Path resolves an id to a file inside the store.
func (s *Store) Path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", ErrInvalidID
	}
	p := filepath.Join(s.dir, id)
	st, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !st.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return p, nil
}

// Clear removes every stored file.
func (s *Store) Clear() (int, error) {
	return s.removeIf(func(fs.FileInfo) bool { return true })
}

// Sweep removes files older than retention.
func (s *Store) Sweep(retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention)
	return s.removeIf(func(info fs.FileInfo) bool {
		return info.ModTime().Before(cutoff)
	})
}

func (s *Store) removeIf(match func(fs.FileInfo) bool) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read upload dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || e.Name() == keepFile {
			continue
		}
		info, err := e.Info()
		if err != nil || !match(info) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			log.Error().Err(err).Str("module", "files").Str("file_id", e.Name()).Msg("remove failed")
			continue
		}
		removed++
	}
	return removed, nil
}

// RunSweeper sweeps every interval until ctx is done. retention is read on
// each tick so settings changes apply without a restart.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration, retention func() time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Sweep(retention())
			if err != nil {
				log.Error().Err(err).Str("module", "files").Msg("sweep")
				continue
			}
			if n > 0 {
				log.Info().Str("module", "files").Int("deleted", n).Msg("expired uploads removed")
			}
		}
	}
}

func sanitizeExt(ext string) string {
	if len(ext) > 16 {
		return ""
	}
	for _, r := range ext[min(1, len(ext)):] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}
