// Package auth manages the rotating access code shown on the placard. The
// code is a human-typeable shortcut into the current experience's client
// page; rotating it on every experience change keeps stale QR scans from
// landing in the wrong session.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/footron/footron/internal/log"
	"github.com/footron/footron/internal/placard"
)

const codeBytes = 6 // 8 url-safe characters

// Manager holds the active code and the one queued to replace it.
type Manager struct {
	placard placard.API
	baseURL string
	logger  zerolog.Logger

	mu        sync.Mutex
	code      string
	next      string
	listeners []chan string
}

func New(placardAPI placard.API, baseURL string) (*Manager, error) {
	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	next, err := generateCode()
	if err != nil {
		return nil, err
	}
	return &Manager{
		placard: placardAPI,
		baseURL: baseURL,
		logger:  log.WithComponent("auth"),
		code:    code,
		next:    next,
	}, nil
}

// Code returns the currently valid access code.
func (m *Manager) Code() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code
}

// Check reports whether a presented code is the active one.
func (m *Manager) Check(code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return code != "" && code == m.code
}

// Subscribe delivers each new active code as it takes effect.
func (m *Manager) Subscribe() <-chan string {
	ch := make(chan string, 4)
	m.mu.Lock()
	m.listeners = append(m.listeners, ch)
	m.mu.Unlock()
	return ch
}

// Advance promotes the queued code and pushes the new join URL to the
// placard. Called on every experience change.
func (m *Manager) Advance(ctx context.Context) error {
	next, err := generateCode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.code = m.next
	m.next = next
	active := m.code
	listeners := m.listeners
	m.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- active:
		default:
		}
	}

	url := fmt.Sprintf("%s/c/%s", m.baseURL, active)
	if err := m.placard.SetURL(ctx, url); err != nil {
		m.logger.Warn().Err(err).Str("event", "auth.placard_failed").Msg("placard URL update failed")
		return err
	}
	return nil
}

func generateCode() (string, error) {
	raw := make([]byte, codeBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
