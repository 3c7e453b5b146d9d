// Package colors derives per-experience accent palettes from thumbnail art
// for the web client's theming, cached in badger so artwork is only analyzed
// when it changes.
package colors

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/footron/footron/internal/experience"
	"github.com/footron/footron/internal/log"
)

// Palette is the accent set the web client themes an experience with.
type Palette struct {
	Primary        string `json:"primary"`
	SecondaryLight string `json:"secondary_light"`
	SecondaryDark  string `json:"secondary_dark"`
}

// Result pairs a finished extraction with its experience and artwork hash.
type Result struct {
	ExperienceID string
	Hash         string
	Palette      Palette
}

// Manager owns the palette cache and the extraction workers.
type Manager struct {
	db      *badger.DB
	results chan Result
	logger  zerolog.Logger
}

func Open(path string) (*Manager, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open colors cache: %w", err)
	}
	return &Manager{
		db:      db,
		results: make(chan Result, 64),
		logger:  log.WithComponent("colors"),
	}, nil
}

func (m *Manager) Close() error { return m.db.Close() }

// Results carries finished extractions to the persisting loop.
func (m *Manager) Results() <-chan Result { return m.results }

// Palette returns the cached palette for an experience, if one exists.
func (m *Manager) Palette(experienceID string) (Palette, bool) {
	var p Palette
	err := m.db.View(func(txn *badger.Txn) error {
		hash, err := txnGet(txn, expKey(experienceID))
		if err != nil {
			return err
		}
		raw, err := txnGet(txn, paletteKey(string(hash)))
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &p)
	})
	if err != nil {
		return Palette{}, false
	}
	return p, true
}

// Request ensures a palette exists for the experience's current artwork.
// Cache hits only refresh the experience-to-hash mapping; misses kick off a
// background extraction whose result arrives on Results.
func (m *Manager) Request(ctx context.Context, exp *experience.Experience) {
	thumb := filepath.Join(exp.Path, "static", "thumb.jpg")
	raw, err := os.ReadFile(thumb)
	if err != nil {
		return
	}
	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])

	cached := m.db.View(func(txn *badger.Txn) error {
		_, err := txnGet(txn, paletteKey(hash))
		return err
	}) == nil
	if cached {
		err := m.db.Update(func(txn *badger.Txn) error {
			return txn.Set(expKey(exp.ID), []byte(hash))
		})
		if err != nil {
			m.logger.Warn().Err(err).Str("event", "colors.cache_write_failed").Msg("palette mapping write failed")
		}
		return
	}

	id := exp.ID
	go func() {
		palette, err := extract(raw)
		if err != nil {
			m.logger.Warn().
				Err(err).
				Str("event", "colors.extract_failed").
				Str("experience", id).
				Msg("palette extraction failed")
			return
		}
		select {
		case m.results <- Result{ExperienceID: id, Hash: hash, Palette: palette}:
		case <-ctx.Done():
		}
	}()
}

// Persist writes a finished extraction into the cache.
func (m *Manager) Persist(res Result) error {
	raw, err := json.Marshal(res.Palette)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(paletteKey(res.Hash), raw); err != nil {
			return err
		}
		return txn.Set(expKey(res.ExperienceID), []byte(res.Hash))
	})
}

func expKey(id string) []byte       { return []byte("exp/" + id) }
func paletteKey(hash string) []byte { return []byte("palette/" + hash) }

func txnGet(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// extract picks the dominant mid-tone color by bucketing pixels to 4 bits per
// channel, then derives light and dark companions.
func extract(raw []byte) (Palette, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Palette{}, fmt.Errorf("decode thumbnail: %w", err)
	}

	counts := map[uint16]int{}
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y += 2 {
		for x := bounds.Min.X; x < bounds.Max.X; x += 2 {
			r, g, b, _ := img.At(x, y).RGBA()
			r8, g8, b8 := uint8(r>>8), uint8(g>>8), uint8(b>>8)
			// Near-white and near-black pixels wash out the accent.
			lum := (int(r8) + int(g8) + int(b8)) / 3
			if lum < 24 || lum > 232 {
				continue
			}
			bucket := uint16(r8>>4)<<8 | uint16(g8>>4)<<4 | uint16(b8>>4)
			counts[bucket]++
		}
	}
	if len(counts) == 0 {
		return Palette{Primary: "#808080", SecondaryLight: "#c0c0c0", SecondaryDark: "#404040"}, nil
	}

	var best uint16
	bestCount := -1
	for bucket, count := range counts {
		if count > bestCount {
			best, bestCount = bucket, count
		}
	}
	r := uint8(best>>8&0xf)<<4 | 0x8
	g := uint8(best>>4&0xf)<<4 | 0x8
	b := uint8(best&0xf)<<4 | 0x8

	return Palette{
		Primary:        hexColor(r, g, b),
		SecondaryLight: hexColor(lighten(r), lighten(g), lighten(b)),
		SecondaryDark:  hexColor(darken(r), darken(g), darken(b)),
	}, nil
}

func lighten(c uint8) uint8 { return c + (255-c)/2 }
func darken(c uint8) uint8  { return c / 2 }

func hexColor(r, g, b uint8) string {
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}
