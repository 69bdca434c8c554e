package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/bluescreen10/sugary/account"
)

// Memory is a Store held entirely in process memory. It backs the catalog
// command line tool and tests that need a Store without HTTP cookies.
type Memory struct {
	mu      sync.Mutex
	entries map[string]string
	access  string
	writes  int
	clears  int
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]string)}
}

// Seed sets the raw tier contents. Empty values leave the entry unset.
func (m *Memory) Seed(refreshToken, user, accessToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if refreshToken != "" {
		m.entries[EntryRefreshToken] = refreshToken
	}
	if user != "" {
		m.entries[EntryUser] = user
	}
	m.access = accessToken
}

func (m *Memory) Write(ctx context.Context, pair account.TokenPair, profile account.Profile) error {
	user, err := json.Marshal(profile)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[EntryRefreshToken] = pair.RefreshToken
	m.entries[EntryUser] = string(user)
	if pair.AccessToken != "" {
		m.access = pair.AccessToken
	}
	m.writes++
	return nil
}

func (m *Memory) ReadDurable(ctx context.Context) (Durable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	refresh := m.entries[EntryRefreshToken]
	user := m.entries[EntryUser]
	if refresh == "" || user == "" {
		return Durable{}, ErrNoSession
	}

	var profile account.Profile
	if err := json.Unmarshal([]byte(user), &profile); err != nil {
		return Durable{}, errors.Join(ErrCorruptProfile, err)
	}
	return Durable{RefreshToken: refresh, Profile: profile}, nil
}

func (m *Memory) ReadVolatile(ctx context.Context) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access, m.access != ""
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]string)
	m.access = ""
	m.clears++
	return nil
}

// Writes returns how many times Write was called.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Clears returns how many times Clear was called.
func (m *Memory) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// Empty reports whether both tiers are empty.
func (m *Memory) Empty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries) == 0 && m.access == ""
}
