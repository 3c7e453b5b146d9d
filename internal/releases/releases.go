// Package releases stores uploaded experience builds and swaps the live
// version with an atomic symlink flip.
package releases

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/footron/footron/internal/log"
)

const indexFile = "data.json"

// index is the per-experience release record.
type index struct {
	Current  string           `json:"current,omitempty"`
	Releases map[string]int64 `json:"releases"`
}

// Store keeps release directories under <releases>/<experience>/<hash> and
// points <experiences>/<experience> at the live one.
type Store struct {
	releasesPath    string
	experiencesPath string
	logger          zerolog.Logger

	mu sync.Mutex
}

func NewStore(releasesPath, experiencesPath string) *Store {
	return &Store{
		releasesPath:    releasesPath,
		experiencesPath: experiencesPath,
		logger:          log.WithComponent("releases"),
	}
}

// CreateRelease registers a release and returns the directory the build
// should be unpacked into. Re-creating an existing release is an error.
func (s *Store) CreateRelease(experienceID, hash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.releaseDir(experienceID, hash)
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("release %s/%s already exists", experienceID, hash)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	idx, err := s.readIndex(experienceID)
	if err != nil {
		return "", err
	}
	idx.Releases[hash] = time.Now().UnixMilli()
	if err := s.writeIndex(experienceID, idx); err != nil {
		return "", err
	}
	s.logger.Info().
		Str("event", "releases.created").
		Str("experience", experienceID).
		Str("release", hash).
		Msg("release registered")
	return dir, nil
}

// SetRelease makes a stored release the live version of the experience.
func (s *Store) SetRelease(experienceID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.releaseDir(experienceID, hash)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("release %s/%s does not exist", experienceID, hash)
	}

	live := filepath.Join(s.experiencesPath, experienceID)
	if info, err := os.Lstat(live); err == nil {
		if info.Mode()&os.ModeSymlink == 0 {
			return fmt.Errorf("live path %s is not release-managed", live)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	// Symlink-then-rename so readers never see a missing live path.
	tmp := live + ".next"
	_ = os.Remove(tmp)
	if err := os.Symlink(dir, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, live); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	idx, err := s.readIndex(experienceID)
	if err != nil {
		return err
	}
	idx.Current = hash
	if err := s.writeIndex(experienceID, idx); err != nil {
		return err
	}
	s.logger.Info().
		Str("event", "releases.activated").
		Str("experience", experienceID).
		Str("release", hash).
		Msg("release activated")
	return nil
}

// ReleaseExists reports whether a release directory is present.
func (s *Store) ReleaseExists(experienceID, hash string) bool {
	_, err := os.Stat(s.releaseDir(experienceID, hash))
	return err == nil
}

// CurrentRelease returns the live release hash, empty when unmanaged.
func (s *Store) CurrentRelease(experienceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.readIndex(experienceID)
	if err != nil {
		return "", err
	}
	return idx.Current, nil
}

// Releases lists an experience's stored release hashes with creation times.
func (s *Store) Releases(experienceID string) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.readIndex(experienceID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(idx.Releases))
	for hash, ms := range idx.Releases {
		out[hash] = time.UnixMilli(ms)
	}
	return out, nil
}

func (s *Store) releaseDir(experienceID, hash string) string {
	return filepath.Join(s.releasesPath, experienceID, hash)
}

func (s *Store) indexPath(experienceID string) string {
	return filepath.Join(s.releasesPath, experienceID, indexFile)
}

func (s *Store) readIndex(experienceID string) (index, error) {
	idx := index{Releases: map[string]int64{}}
	raw, err := os.ReadFile(s.indexPath(experienceID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return idx, nil
		}
		return idx, err
	}
	if err := json.Unmarshal(raw, &idx); err != nil {
		return idx, fmt.Errorf("parse release index: %w", err)
	}
	if idx.Releases == nil {
		idx.Releases = map[string]int64{}
	}
	return idx, nil
}

func (s *Store) writeIndex(experienceID string, idx index) error {
	raw, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(s.releasesPath, experienceID), 0o755); err != nil {
		return err
	}
	tmp := s.indexPath(experienceID) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.indexPath(experienceID))
}
