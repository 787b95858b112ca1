package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilupskalvis/geoconv/internal/remote/server"
)

const tokenPrefix = "gcv_"

// fileTokenStore keeps tokens in a JSON file. Only token hashes are
// persisted. Entries are never mutated in place: updates replace the
// pointer, so callers may hold a *TokenInfo without locking.
type fileTokenStore struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	byHash map[string]*server.TokenInfo
}

func newFileTokenStore(path string, logger *slog.Logger) *fileTokenStore {
	return &fileTokenStore{
		path:   path,
		logger: logger,
		now:    time.Now,
		byHash: make(map[string]*server.TokenInfo),
	}
}

// Load replaces the in-memory tokens with the file's. A missing file leaves
// the store empty.
func (s *fileTokenStore) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("no token file, starting empty", "path", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read token store: %w", err)
	}

	var list []*server.TokenInfo
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parse token store %s: %w", s.path, err)
	}

	byHash := make(map[string]*server.TokenInfo, len(list))
	for _, t := range list {
		byHash[t.TokenHash] = t
	}

	s.mu.Lock()
	s.byHash = byHash
	s.mu.Unlock()

	s.logger.Info("loaded tokens", "count", len(list))
	return nil
}

func (s *fileTokenStore) GetByHash(hash string) (*server.TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byHash[hash], nil
}

func (s *fileTokenStore) UpdateLastUsed(id string, at time.Time) error {
	return s.mutate(func(byHash map[string]*server.TokenInfo) error {
		for hash, t := range byHash {
			if t.ID == id {
				updated := *t
				updated.LastUsedAt = &at
				byHash[hash] = &updated
				return nil
			}
		}
		// Deleted since it was used.
		return nil
	})
}

func (s *fileTokenStore) CreateToken(desc string, workspaces []string, permission string) (string, *server.TokenInfo, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	raw := tokenPrefix + hex.EncodeToString(secret)

	info := &server.TokenInfo{
		ID:         uuid.NewString(),
		TokenHash:  server.HashToken(raw),
		Desc:       desc,
		Workspaces: workspaces,
		Permission: permission,
		CreatedAt:  s.now().UTC(),
	}
	err := s.mutate(func(byHash map[string]*server.TokenInfo) error {
		byHash[info.TokenHash] = info
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("persist token: %w", err)
	}
	return raw, info, nil
}

func (s *fileTokenStore) ListTokens() ([]*server.TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedTokens(s.byHash), nil
}

func (s *fileTokenStore) DeleteToken(id string) error {
	return s.mutate(func(byHash map[string]*server.TokenInfo) error {
		for hash, t := range byHash {
			if t.ID == id {
				delete(byHash, hash)
				return nil
			}
		}
		return fmt.Errorf("token '%s' not found", id)
	})
}

// mutate applies fn to a copy of the token map and persists the result.
// The in-memory map only changes once the file is written.
func (s *fileTokenStore) mutate(fn func(map[string]*server.TokenInfo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.byHash)
	if err := fn(next); err != nil {
		return err
	}
	if err := s.write(sortedTokens(next)); err != nil {
		return err
	}
	s.byHash = next
	return nil
}

func (s *fileTokenStore) write(tokens []*server.TokenInfo) error {
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tokens-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func sortedTokens(byHash map[string]*server.TokenInfo) []*server.TokenInfo {
	out := make([]*server.TokenInfo, 0, len(byHash))
	for _, t := range byHash {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *server.TokenInfo) int { return strings.Compare(a.ID, b.ID) })
	return out
}
