// Package store holds all credential state in memory and mirrors it to a
// single JSON file.
//
// Reads serve an immutable last-committed snapshot and never wait on disk
// I/O. Mutations serialize on a single writer lock covering apply+persist:
// the snapshot pointer is swapped only after the file write succeeds, so a
// failed write leaves both memory and disk at the previous committed state.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/florianilch/tokenward/internal/token"
)

// ErrWriteFailed reports that persisting a mutation failed. The in-memory
// state is unchanged — the caller must treat the mutation as not applied.
var ErrWriteFailed = errors.New("token store write failed")

// state is an immutable committed snapshot. Never mutated in place; writers
// build a replacement and swap the pointer.
type state struct {
	client      *token.ClientCredentials
	users       map[string]token.UserToken
	lastUpdated time.Time
}

func (s *state) clone() *state {
	next := &state{
		users:       maps.Clone(s.users),
		lastUpdated: s.lastUpdated,
	}
	if next.users == nil {
		next.users = make(map[string]token.UserToken)
	}
	if s.client != nil {
		c := *s.client
		next.client = &c
	}
	return next
}

// fileLayout is the persisted JSON shape.
type fileLayout struct {
	UserTokens        map[string]token.UserToken `json:"user_tokens"`
	ClientCredentials *token.ClientCredentials   `json:"client_credentials"`
	LastUpdated       time.Time                  `json:"last_updated"`
}

// Store owns the client token (0 or 1) and the per-user token mapping.
type Store struct {
	path string
	log  *slog.Logger
	now  func() time.Time

	writeMu sync.Mutex
	current atomic.Pointer[state]
}

// Load reads the persisted file at path. A missing or unparsable file yields
// an empty store and a logged warning, never an error — the service must
// still start.
func Load(path string, log *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Store{
		path: path,
		log:  log,
		now:  time.Now,
	}

	initial := &state{users: make(map[string]token.UserToken)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("token store file absent, starting empty", "path", path)
	case err != nil:
		log.Warn("token store unreadable, starting empty", "path", path, "error", err)
	default:
		var layout fileLayout
		if err := json.Unmarshal(data, &layout); err != nil {
			log.Warn("token store unparsable, starting empty", "path", path, "error", err)
		} else {
			initial.client = layout.ClientCredentials
			initial.lastUpdated = layout.LastUpdated
			if layout.UserTokens != nil {
				initial.users = layout.UserTokens
			}
		}
	}

	s.current.Store(initial)
	return s, nil
}

// mutate applies fn to a copy of the committed state, persists it, and
// commits on success. Serialized across all writers.
func (s *Store) mutate(fn func(*state)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.current.Load().clone()
	fn(next)
	next.lastUpdated = s.now().UTC()

	data, err := json.MarshalIndent(fileLayout{
		UserTokens:        next.users,
		ClientCredentials: next.client,
		LastUpdated:       next.lastUpdated,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding: %w", ErrWriteFailed, err)
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	s.current.Store(next)
	return nil
}

// ClientToken returns a copy of the stored client token, if any.
func (s *Store) ClientToken() (token.ClientCredentials, bool) {
	st := s.current.Load()
	if st.client == nil {
		return token.ClientCredentials{}, false
	}
	return *st.client, true
}

// SetClientToken replaces the client token and persists.
func (s *Store) SetClientToken(c token.ClientCredentials) error {
	return s.mutate(func(st *state) {
		st.client = &c
	})
}

// UserToken returns a copy of the stored token for id, if any.
func (s *Store) UserToken(id string) (token.UserToken, bool) {
	u, ok := s.current.Load().users[id]
	return u, ok
}

// SetUserToken replaces the token for id and persists.
func (s *Store) SetUserToken(id string, u token.UserToken) error {
	if id == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	return s.mutate(func(st *state) {
		st.users[id] = u
	})
}

// DeleteUserToken removes the token for id and persists. Deleting an absent
// id still persists (and bumps last_updated).
func (s *Store) DeleteUserToken(id string) error {
	return s.mutate(func(st *state) {
		delete(st.users, id)
	})
}

// UserTokens returns a copy of the user-token mapping.
func (s *Store) UserTokens() map[string]token.UserToken {
	return maps.Clone(s.current.Load().users)
}

// LastUpdated returns the commit time of the last persisted mutation.
func (s *Store) LastUpdated() time.Time {
	return s.current.Load().lastUpdated
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// FileExists reports whether the persisted file is present on disk.
func (s *Store) FileExists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save persists the current committed state without changing it. Used at
// graceful shutdown.
func (s *Store) Save() error {
	return s.mutate(func(*state) {})
}
