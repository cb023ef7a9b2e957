package keeper

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"sync"

	"cryptdrop/pkg/log"
	"cryptdrop/pkg/models"
)

const (
	tokenBytes    = 32
	storeFilePerm = 0o600
)

// NewToken returns a fresh high-entropy download token. Uniqueness is
// probabilistic; the caller may still collision-check defensively.
func NewToken() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		log.Fatal().Err(err).Msg("Random source unavailable")
	}
	return hex.EncodeToString(buf)
}

// TokenStore is the durable token -> record map: an in-memory cache hydrated
// lazily from a JSON file and rewritten whole after every mutation.
// Persistence failures are logged, never surfaced; the in-memory mutation
// stands regardless.
//
// Deleting a token cascades into the alias store: every alias pointing at it
// is removed, best-effort.
type TokenStore struct {
	mu      sync.Mutex
	cache   map[string]models.TokenRecord
	loaded  bool
	path    string
	aliases *AliasStore
}

// NewTokenStore creates a store persisted at path. aliases receives the
// cascade on every token deletion; it must not be nil.
func NewTokenStore(path string, aliases *AliasStore) *TokenStore {
	return &TokenStore{
		cache:   make(map[string]models.TokenRecord),
		path:    path,
		aliases: aliases,
	}
}

// ensureLoaded hydrates the cache from disk exactly once. Callers must hold
// s.mu; concurrent callers block on the mutex until the first load finishes,
// so no operation ever proceeds against an unhydrated cache.
func (s *TokenStore) ensureLoaded() {
	if s.loaded {
		return
	}
	s.loaded = true

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("Failed to read token store")
		return
	}
	if err := json.Unmarshal(data, &s.cache); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("Failed to parse token store")
		return
	}
	log.Info().Int("count", len(s.cache)).Msg("Loaded tokens from file")
}

// persist rewrites the whole backing file. Callers must hold s.mu.
func (s *TokenStore) persist() {
	data, err := json.MarshalIndent(s.cache, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal token store")
		return
	}
	if err := os.WriteFile(s.path, data, storeFilePerm); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("Failed to persist token store")
	}
}

// Set inserts or overwrites the record and persists.
func (s *TokenStore) Set(token string, rec models.TokenRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	s.cache[token] = rec
	s.persist()
}

// Get returns the record for the token.
func (s *TokenStore) Get(token string) (models.TokenRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	rec, ok := s.cache[token]
	return rec, ok
}

// Delete removes the record, persists, and cascades alias cleanup. Returns
// whether a record was removed.
func (s *TokenStore) Delete(token string) bool {
	s.mu.Lock()
	s.ensureLoaded()
	_, existed := s.cache[token]
	delete(s.cache, token)
	s.persist()
	s.mu.Unlock()

	// Cascade outside the lock: alias consistency is best-effort cleanup,
	// not part of the store's own critical section.
	for alias, mapped := range s.aliases.Entries() {
		if mapped == token {
			s.aliases.Delete(alias)
			log.Info().Str("alias", alias).Msg("Alias removed for deleted token")
		}
	}

	return existed
}

// Size returns the number of records.
func (s *TokenStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	return len(s.cache)
}

// Entries returns a copy of the full map.
func (s *TokenStore) Entries() map[string]models.TokenRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	out := make(map[string]models.TokenRecord, len(s.cache))
	for k, v := range s.cache {
		out[k] = v
	}
	return out
}

// Keys returns the current token key set.
func (s *TokenStore) Keys() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	out := make(map[string]struct{}, len(s.cache))
	for k := range s.cache {
		out[k] = struct{}{}
	}
	return out
}
