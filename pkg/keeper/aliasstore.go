package keeper

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"
	"sync"

	"cryptdrop/pkg/log"
)

// aliasPattern defines the valid alias format: 3-64 characters, lowercase
// alphanumeric start, remainder alphanumeric plus dot, dash, underscore.
var aliasPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{2,63}$`)

// NormalizeAlias lowercases and trims the input. Always normalize before
// validating or looking up.
func NormalizeAlias(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// IsValidAlias reports whether a normalized alias matches the required
// format.
func IsValidAlias(input string) bool {
	return aliasPattern.MatchString(input)
}

// AliasStore is the durable alias -> token map. Same persistence model as
// the token store: lazy one-time hydration, whole-file JSON rewrite after
// every mutation, write failures logged only. Aliases are a secondary index
// and never authoritative.
type AliasStore struct {
	mu     sync.Mutex
	cache  map[string]string
	loaded bool
	path   string
}

// NewAliasStore creates a store persisted at path.
func NewAliasStore(path string) *AliasStore {
	return &AliasStore{
		cache: make(map[string]string),
		path:  path,
	}
}

// ensureLoaded hydrates the cache from disk exactly once; callers hold s.mu.
func (s *AliasStore) ensureLoaded() {
	if s.loaded {
		return
	}
	s.loaded = true

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("Failed to read alias store")
		return
	}
	if err := json.Unmarshal(data, &s.cache); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("Failed to parse alias store")
		return
	}
	log.Info().Int("count", len(s.cache)).Msg("Loaded aliases from file")
}

// persist rewrites the whole backing file; callers hold s.mu.
func (s *AliasStore) persist() {
	data, err := json.MarshalIndent(s.cache, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal alias store")
		return
	}
	if err := os.WriteFile(s.path, data, storeFilePerm); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("Failed to persist alias store")
	}
}

// Set maps alias to token and persists.
func (s *AliasStore) Set(alias, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	s.cache[alias] = token
	s.persist()
}

// Get returns the token mapped to the alias.
func (s *AliasStore) Get(alias string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	token, ok := s.cache[alias]
	return token, ok
}

// Has reports whether the alias exists.
func (s *AliasStore) Has(alias string) bool {
	_, ok := s.Get(alias)
	return ok
}

// Delete removes the alias and persists. Returns whether anything was
// removed.
func (s *AliasStore) Delete(alias string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	_, existed := s.cache[alias]
	delete(s.cache, alias)
	s.persist()
	return existed
}

// Size returns the number of aliases.
func (s *AliasStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	return len(s.cache)
}

// Entries returns a copy of the full map.
func (s *AliasStore) Entries() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	out := make(map[string]string, len(s.cache))
	for k, v := range s.cache {
		out[k] = v
	}
	return out
}

// SweepInvalid removes every alias whose target token is not in the live
// set and returns the removal count. Persists once if anything was removed.
// This is the orphan-reconciliation backstop run by the expiry sweeper.
func (s *AliasStore) SweepInvalid(live map[string]struct{}) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	removed := 0
	for alias, token := range s.cache {
		if _, ok := live[token]; !ok {
			delete(s.cache, alias)
			removed++
		}
	}
	if removed > 0 {
		s.persist()
	}
	return removed
}
