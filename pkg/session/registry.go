package session

import (
	"bytes"
	"sync"
	"time"

	"cryptdrop/pkg/log"
	"cryptdrop/pkg/models"

	"github.com/google/uuid"
)

const (
	// DefaultMaxAge is how long a session may exist before eviction,
	// regardless of completion state.
	DefaultMaxAge = time.Hour

	// DefaultSweepInterval is how often the eviction loop runs.
	DefaultSweepInterval = time.Hour
)

// Session is one in-progress chunked upload. Chunks may arrive in any order
// and at most once meaningfully: re-delivery of an index overwrites.
type Session struct {
	ID        string
	Meta      models.SessionMeta
	Chunks    map[int][]byte
	CreatedAt time.Time
}

// Registry tracks in-progress chunked uploads. All methods are safe for
// concurrent use. When constructed with a checkpoint store, sessions survive
// a process restart until their eviction deadline.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	checkpoint *Checkpoint

	maxAge        time.Duration
	sweepInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRegistry creates a registry without checkpointing.
func NewRegistry() *Registry {
	return NewRegistryWithCheckpoint(nil)
}

// NewRegistryWithCheckpoint creates a registry backed by the given
// checkpoint store. A nil checkpoint disables persistence.
func NewRegistryWithCheckpoint(checkpoint *Checkpoint) *Registry {
	return &Registry{
		sessions:      make(map[string]*Session),
		checkpoint:    checkpoint,
		maxAge:        DefaultMaxAge,
		sweepInterval: DefaultSweepInterval,
		stopCh:        make(chan struct{}),
	}
}

// Create stores a fresh session with an empty chunk set and returns its id.
func (r *Registry) Create(meta models.SessionMeta) string {
	s := &Session{
		ID:        uuid.NewString(),
		Meta:      meta,
		Chunks:    make(map[int][]byte),
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	if r.checkpoint != nil {
		if err := r.checkpoint.SaveSession(s); err != nil {
			log.Error().Err(err).Str("session_id", s.ID).Msg("Failed to checkpoint session")
		}
	}

	log.Info().
		Str("session_id", s.ID).
		Str("original_name", meta.OriginalName).
		Int64("total_size", meta.TotalSize).
		Int("total_chunks", meta.TotalChunks).
		Msg("Upload session created")

	return s.ID
}

// get returns the session, consulting the checkpoint store on a memory miss.
// Caller must hold r.mu.
func (r *Registry) get(id string) *Session {
	if s, ok := r.sessions[id]; ok {
		return s
	}
	if r.checkpoint == nil {
		return nil
	}
	s, err := r.checkpoint.LoadSession(id)
	if err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("Failed to restore session from checkpoint")
		return nil
	}
	if s == nil {
		return nil
	}
	r.sessions[id] = s
	log.Info().Str("session_id", id).Msg("Session restored from checkpoint")
	return s
}

// AddChunk inserts or overwrites the chunk at index. Arrival does not
// refresh the session's eviction deadline. The data slice is copied so the
// caller may reuse its buffer.
func (r *Registry) AddChunk(id string, index int, data []byte) error {
	r.mu.Lock()
	s := r.get(id)
	if s == nil {
		r.mu.Unlock()
		return SessionNotFoundError{ID: id}
	}
	if index < 0 || index >= s.Meta.TotalChunks {
		r.mu.Unlock()
		return ChunkOutOfRangeError{Index: index, Total: s.Meta.TotalChunks}
	}
	s.Chunks[index] = bytes.Clone(data)
	received := len(s.Chunks)
	r.mu.Unlock()

	if r.checkpoint != nil {
		if err := r.checkpoint.SaveChunk(id, index, data); err != nil {
			log.Error().Err(err).Str("session_id", id).Int("index", index).Msg("Failed to checkpoint chunk")
		}
	}

	log.Debug().
		Str("session_id", id).
		Int("index", index).
		Int("received", received).
		Int("total", s.Meta.TotalChunks).
		Msg("Chunk stored")

	return nil
}

// IsComplete reports whether the chunk count matches the declared total. A
// session with totalChunks == 0 is trivially complete.
func (r *Registry) IsComplete(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.get(id)
	if s == nil {
		return false, SessionNotFoundError{ID: id}
	}
	return len(s.Chunks) == s.Meta.TotalChunks, nil
}

// Progress returns received and expected chunk counts.
func (r *Registry) Progress(id string) (received, expected int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.get(id)
	if s == nil {
		return 0, 0, SessionNotFoundError{ID: id}
	}
	return len(s.Chunks), s.Meta.TotalChunks, nil
}

// Assemble concatenates the session's chunks strictly in index order. A gap
// at any index fails even when the chunk count matches the declared total
// (a duplicate-index overwrite must not mask a missing index). Assembly does
// not delete the session; that is the caller's responsibility.
func (r *Registry) Assemble(id string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.get(id)
	if s == nil {
		return nil, SessionNotFoundError{ID: id}
	}
	return assemble(s)
}

// AssembleAndDelete assembles the chunks and, on success, removes the
// session inside the same critical section: of two concurrent completions
// exactly one gets the bytes, the other observes not-found. A failed
// assembly leaves the session in place so missing chunks can still arrive.
func (r *Registry) AssembleAndDelete(id string) ([]byte, models.SessionMeta, error) {
	r.mu.Lock()
	s := r.get(id)
	if s == nil {
		r.mu.Unlock()
		return nil, models.SessionMeta{}, SessionNotFoundError{ID: id}
	}
	out, err := assemble(s)
	if err != nil {
		r.mu.Unlock()
		return nil, models.SessionMeta{}, err
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	if r.checkpoint != nil {
		if err := r.checkpoint.DeleteSession(id); err != nil {
			log.Error().Err(err).Str("session_id", id).Msg("Failed to delete session checkpoint")
		}
	}
	return out, s.Meta, nil
}

// assemble concatenates the session's chunks; callers hold r.mu.
func assemble(s *Session) ([]byte, error) {
	if len(s.Chunks) != s.Meta.TotalChunks {
		return nil, IncompleteUploadError{
			ID:       s.ID,
			Received: len(s.Chunks),
			Expected: s.Meta.TotalChunks,
			Missing:  -1,
		}
	}

	var total int
	for i := 0; i < s.Meta.TotalChunks; i++ {
		chunk, ok := s.Chunks[i]
		if !ok {
			return nil, IncompleteUploadError{
				ID:       s.ID,
				Received: len(s.Chunks),
				Expected: s.Meta.TotalChunks,
				Missing:  i,
			}
		}
		total += len(chunk)
	}

	// Preallocated single pass instead of repeated append growth; chunk
	// payloads can be large.
	out := make([]byte, 0, total)
	for i := 0; i < s.Meta.TotalChunks; i++ {
		out = append(out, s.Chunks[i]...)
	}
	return out, nil
}

// Delete removes the session and its checkpoint rows. Idempotent; returns
// whether anything was removed from memory.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	_, existed := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if r.checkpoint != nil {
		if err := r.checkpoint.DeleteSession(id); err != nil {
			log.Error().Err(err).Str("session_id", id).Msg("Failed to delete session checkpoint")
		}
	}
	return existed
}

// Start runs an immediate eviction pass and then launches the background
// eviction loop.
func (r *Registry) Start() {
	r.EvictStale()

	r.wg.Add(1)
	go r.evictionLoop()

	log.Info().
		Dur("interval", r.sweepInterval).
		Dur("max_age", r.maxAge).
		Msg("Upload session eviction loop started")
}

// Stop terminates the eviction loop.
func (r *Registry) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Registry) evictionLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.EvictStale()
		case <-r.stopCh:
			return
		}
	}
}

// EvictStale removes every session older than the max age, regardless of
// completion state, and purges stale checkpoint rows.
func (r *Registry) EvictStale() int {
	cutoff := time.Now().Add(-r.maxAge)

	r.mu.Lock()
	var evicted []string
	for id, s := range r.sessions {
		if s.CreatedAt.Before(cutoff) {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	for _, id := range evicted {
		log.Info().Str("session_id", id).Msg("Evicted stale upload session")
		if r.checkpoint != nil {
			if err := r.checkpoint.DeleteSession(id); err != nil {
				log.Error().Err(err).Str("session_id", id).Msg("Failed to delete stale checkpoint")
			}
		}
	}

	// Orphaned checkpoint rows can outlive memory after a restart.
	if r.checkpoint != nil {
		removed, err := r.checkpoint.DeleteOlderThan(cutoff)
		if err != nil {
			log.Error().Err(err).Msg("Failed to sweep stale checkpoints")
		} else if removed > 0 {
			log.Info().Int("removed", removed).Msg("Swept stale session checkpoints")
		}
	}

	return len(evicted)
}
