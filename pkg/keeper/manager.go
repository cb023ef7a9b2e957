package keeper

import (
	"sort"
	"sync"
	"time"

	"cryptdrop/pkg/blob"
	"cryptdrop/pkg/log"
	"cryptdrop/pkg/models"
	"cryptdrop/pkg/vaultcrypt"

	"github.com/dustin/go-humanize"
)

const (
	// DefaultTokenTTL is how long a minted download token stays claimable.
	DefaultTokenTTL = 24 * time.Hour

	// DefaultSweepInterval is how often the expiry sweeper runs.
	DefaultSweepInterval = time.Hour
)

// Manager owns the token store, the alias store and the blob store, and
// enforces the invariants that span them: a record and its backing file are
// co-terminous, an alias never outlives its token, and a token is consumed
// at most once.
//
// The manager mutex serializes resolve-then-delete sequences so that two
// concurrent consumption attempts cannot both succeed.
type Manager struct {
	mu sync.Mutex

	tokens  *TokenStore
	aliases *AliasStore
	blobs   *blob.Store

	ttl           time.Duration
	sweepInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager wires the three stores together.
func NewManager(tokens *TokenStore, aliases *AliasStore, blobs *blob.Store) *Manager {
	return &Manager{
		tokens:        tokens,
		aliases:       aliases,
		blobs:         blobs,
		ttl:           DefaultTokenTTL,
		sweepInterval: DefaultSweepInterval,
		stopCh:        make(chan struct{}),
	}
}

// Resolution is the outcome of mapping a download-capable string to a live
// token record.
type Resolution struct {
	Token     string
	Record    models.TokenRecord
	UsedAlias bool
	// Alias is the normalized input when resolution went through the alias
	// store.
	Alias string
}

// resolveLocked maps s to a live record: direct token lookup first, then
// normalized alias lookup. Expired records are purged as a side effect.
// Callers hold m.mu.
func (m *Manager) resolveLocked(s string) (*Resolution, error) {
	res := &Resolution{Token: s}

	rec, ok := m.tokens.Get(s)
	if !ok {
		alias := NormalizeAlias(s)
		mapped, aliasOK := m.aliases.Get(alias)
		if !aliasOK {
			return nil, TokenNotFoundError{Ref: s}
		}
		res.Token = mapped
		res.UsedAlias = true
		res.Alias = alias
		rec, ok = m.tokens.Get(mapped)
		if !ok {
			// Dangling alias: the next sweep reconciles it, but there is no
			// reason to keep it around now.
			m.aliases.Delete(alias)
			return nil, TokenNotFoundError{Ref: s}
		}
	}
	res.Record = rec

	if time.Now().UnixMilli() > rec.ExpiresAt {
		m.tokens.Delete(res.Token)
		if res.UsedAlias {
			// The cascade above should already have removed it; the direct
			// delete guards against ordering races.
			m.aliases.Delete(res.Alias)
		}
		log.Info().Str("token", res.Token).Msg("Expired token purged on access")
		return nil, TokenExpiredError{Token: res.Token}
	}

	return res, nil
}

// Resolve maps s to a live record without consuming it. Expired records are
// still purged as a side effect.
func (m *Manager) Resolve(s string) (*Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveLocked(s)
}

// Consume performs the one-time download protocol: resolve, check expiry,
// check the password gate, then atomically retire the token and its backing
// file and release the ciphertext. The token delete is the commit point; of
// two concurrent consumers exactly one succeeds and the other observes
// not-found.
//
// A failed password check never mutates state: the file stays claimable
// with the correct credential.
func (m *Manager) Consume(s, password string) ([]byte, *Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.resolveLocked(s)
	if err != nil {
		return nil, nil, err
	}

	if res.Record.PasswordProtected() {
		if err := vaultcrypt.VerifyPassword(password, res.Record.PwSalt, res.Record.PwVerifier); err != nil {
			return nil, nil, err
		}
	}

	data, err := m.blobs.Read(res.Record.Filename)
	if err != nil {
		// Self-heal: a record without a backing file is unservable, drop it.
		m.tokens.Delete(res.Token)
		log.Warn().
			Str("token", res.Token).
			Str("filename", res.Record.Filename).
			Msg("Backing file missing, token removed")
		return nil, nil, BackingFileMissingError{Token: res.Token, Filename: res.Record.Filename}
	}

	if err := m.blobs.Delete(res.Record.Filename); err != nil {
		// Best-effort: a leftover blob is reclaimed later, the consume
		// still commits.
		log.Error().Err(err).Str("filename", res.Record.Filename).Msg("Failed to delete blob")
	}

	m.tokens.Delete(res.Token)
	if res.UsedAlias {
		m.aliases.Delete(res.Alias)
	}

	log.Info().
		Str("token", res.Token).
		Str("original_name", res.Record.OriginalName).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Msg("Token consumed")

	return data, res, nil
}

// StoreBlob writes an assembled ciphertext under a fresh storage name and
// returns the name.
func (m *Manager) StoreBlob(data []byte) (string, error) {
	name := m.blobs.NewName()
	if err := m.blobs.Write(name, data); err != nil {
		return "", err
	}
	return name, nil
}

// Mint stores a new token record for an assembled upload and returns the
// token. The record carries the session's encryption material verbatim.
func (m *Manager) Mint(meta models.SessionMeta, filename string) (string, models.TokenRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token := NewToken()
	// Entropy makes collisions negligible; the alias check keeps a token
	// from shadowing an existing short name.
	for {
		if _, exists := m.tokens.Get(token); !exists && !m.aliases.Has(token) {
			break
		}
		token = NewToken()
	}

	rec := models.TokenRecord{
		Filename:      filename,
		OriginalName:  meta.OriginalName,
		Size:          meta.OriginalSize,
		ExpiresAt:     time.Now().Add(m.ttl).UnixMilli(),
		EncryptionKey: meta.EncryptionKey,
		IV:            meta.IV,
		Salt:          meta.Salt,
		MetadataIV:    meta.MetadataIV,
		PwSalt:        meta.PwSalt,
		PwVerifier:    meta.PwVerifier,
	}
	m.tokens.Set(token, rec)
	return token, rec
}

// CreateAlias validates and links a friendly name to an existing live token.
// The collision check covers both stores: an alias equal to a token string
// would be unreachable, so it is rejected up front.
func (m *Manager) CreateAlias(aliasRaw, token string) (string, error) {
	alias := NormalizeAlias(aliasRaw)
	if !IsValidAlias(alias) {
		return "", AliasInvalidError{Alias: alias}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tokens.Get(token)
	if !ok {
		return "", TokenNotFoundError{Ref: token}
	}
	if time.Now().UnixMilli() > rec.ExpiresAt {
		m.tokens.Delete(token)
		return "", TokenExpiredError{Token: token}
	}

	if _, tokenCollision := m.tokens.Get(alias); tokenCollision {
		return "", AliasCollisionError{Alias: alias}
	}
	if m.aliases.Has(alias) {
		return "", AliasCollisionError{Alias: alias}
	}

	m.aliases.Set(alias, token)
	log.Info().Str("alias", alias).Msg("Alias created")
	return alias, nil
}

// DeleteToken is the explicit user-initiated delete: remove the backing
// file and the record, cascading alias cleanup.
func (m *Manager) DeleteToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tokens.Get(token)
	if !ok {
		return TokenNotFoundError{Ref: token}
	}

	if m.blobs.Exists(rec.Filename) {
		if err := m.blobs.Delete(rec.Filename); err != nil {
			log.Error().Err(err).Str("filename", rec.Filename).Msg("Failed to delete blob")
		}
	}

	m.tokens.Delete(token)
	log.Info().Str("token", token).Msg("Token removed by user")
	return nil
}

// Stats summarizes the token store for the status endpoint.
type Stats struct {
	TotalFiles   int `json:"totalFiles"`
	ValidFiles   int `json:"validFiles"`
	ExpiredFiles int `json:"expiredFiles"`
}

// Status returns stats plus a listing of non-expired records, sorted by
// expiry. Listings never include encryption material.
func (m *Manager) Status() (Stats, []models.TokenListing) {
	now := time.Now().UnixMilli()

	var stats Stats
	var listings []models.TokenListing
	for token, rec := range m.tokens.Entries() {
		stats.TotalFiles++
		if now > rec.ExpiresAt {
			stats.ExpiredFiles++
			continue
		}
		stats.ValidFiles++
		listings = append(listings, models.TokenListing{
			Token:        token,
			OriginalName: rec.OriginalName,
			Size:         rec.Size,
			ExpiresAt:    time.UnixMilli(rec.ExpiresAt).UTC().Format(time.RFC3339),
		})
	}

	sort.Slice(listings, func(i, j int) bool {
		return listings[i].ExpiresAt < listings[j].ExpiresAt
	})
	return stats, listings
}

// Sweep reclaims expired records and their files, then reconciles orphaned
// aliases against the surviving key set. Each entry's cleanup is
// independent: one failure is logged and the sweep continues.
//
// The whole pass holds the manager mutex: the orphan reconciliation at the
// end must see a key set no mint or alias creation can move under it, or a
// just-created alias for a just-minted token would read as orphaned.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixMilli()
	deleted := 0

	for token, rec := range m.tokens.Entries() {
		if now <= rec.ExpiresAt {
			continue
		}

		if m.blobs.Exists(rec.Filename) {
			if err := m.blobs.Delete(rec.Filename); err != nil {
				log.Error().Err(err).Str("filename", rec.Filename).Msg("Failed to delete expired blob")
			} else {
				log.Info().Str("filename", rec.Filename).Msg("Expired file deleted")
			}
		}

		m.tokens.Delete(token)
		deleted++
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("Expired tokens removed")
	}

	// Consistency backstop: the cascade should make this a no-op, but any
	// alias whose target vanished through another path is caught here.
	if removed := m.aliases.SweepInvalid(m.tokens.Keys()); removed > 0 {
		log.Info().Int("removed", removed).Msg("Orphan aliases removed")
	}

	return deleted
}

// SweepAsync runs a sweep in the background, used opportunistically after
// upload completions.
func (m *Manager) SweepAsync() {
	go m.Sweep()
}

// Start runs an immediate sweep and launches the hourly sweep loop.
func (m *Manager) Start() {
	m.Sweep()

	m.wg.Add(1)
	go m.sweepLoop()

	log.Info().Dur("interval", m.sweepInterval).Msg("Expiry sweeper started")
}

// Stop terminates the sweep loop.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stopCh:
			return
		}
	}
}
