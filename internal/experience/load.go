package experience

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/footron/footron/internal/log"
)

// LoadAll scans a directory of per-experience subdirectories, each holding a
// config.json or config.toml. Malformed configs are logged and skipped so one
// bad experience cannot take down the catalog.
func LoadAll(dir string) ([]*Experience, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read experiences dir: %w", err)
	}
	logger := log.WithComponent("experience")

	var out []*Experience
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		exp, err := LoadDir(filepath.Join(dir, entry.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			logger.Warn().
				Err(err).
				Str("event", "experience.config_invalid").
				Str("dir", entry.Name()).
				Msg("skipping experience with bad config")
			continue
		}
		out = append(out, exp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadDir reads one experience's config. A TOML config wins over JSON when
// both exist.
func LoadDir(dir string) (*Experience, error) {
	// Queueable defaults to true; a config must opt out explicitly to be
	// kept out of the rotation.
	exp := Experience{Queueable: true}
	var err error
	tomlPath := filepath.Join(dir, "config.toml")
	jsonPath := filepath.Join(dir, "config.json")
	switch {
	case fileExists(tomlPath):
		err = decodeFile(tomlPath, toml.Unmarshal, &exp)
	case fileExists(jsonPath):
		err = decodeFile(jsonPath, json.Unmarshal, &exp)
	default:
		return nil, fs.ErrNotExist
	}
	if err != nil {
		return nil, err
	}

	exp.Path = dir
	exp.applyDefaults()
	if err := exp.validate(); err != nil {
		return nil, err
	}
	return &exp, nil
}

func decodeFile(path string, unmarshal func([]byte, any) error, into *Experience) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := unmarshal(raw, into); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// LoadGroupings reads collections/tags/folders from the data directory.
// Missing files yield empty maps.
func LoadGroupings(dir string) (*Groupings, error) {
	g := &Groupings{
		Collections: map[string]Collection{},
		Tags:        map[string]Tag{},
		Folders:     map[string]Folder{},
	}

	collections := map[string]Collection{}
	if err := loadGroupingFile(dir, "collections", &collections); err != nil {
		return nil, err
	}
	for id, c := range collections {
		c.ID = id
		g.Collections[id] = c
	}

	tags := map[string]Tag{}
	if err := loadGroupingFile(dir, "tags", &tags); err != nil {
		return nil, err
	}
	for id, t := range tags {
		t.ID = id
		g.Tags[id] = t
	}

	folders := map[string]Folder{}
	if err := loadGroupingFile(dir, "folders", &folders); err != nil {
		return nil, err
	}
	for id, f := range folders {
		f.ID = id
		g.Folders[id] = f
	}

	return g, nil
}

func loadGroupingFile(dir, name string, into any) error {
	tomlPath := filepath.Join(dir, name+".toml")
	jsonPath := filepath.Join(dir, name+".json")
	switch {
	case fileExists(tomlPath):
		raw, err := os.ReadFile(tomlPath)
		if err != nil {
			return err
		}
		if err := toml.Unmarshal(raw, into); err != nil {
			return fmt.Errorf("parse %s.toml: %w", name, err)
		}
	case fileExists(jsonPath):
		raw, err := os.ReadFile(jsonPath)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, into); err != nil {
			return fmt.Errorf("parse %s.json: %w", name, err)
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
