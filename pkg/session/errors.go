package session

// SessionNotFoundError is returned when a chunk or completion call names a
// session that does not exist or has been evicted. The upload must be
// restarted from scratch.
type SessionNotFoundError struct {
	ID string
}

func (e SessionNotFoundError) Error() string {
	return "upload session not found"
}

// IncompleteUploadError is returned when assembly is attempted before every
// chunk index is present. Retryable: the caller may submit the missing
// chunks and try again.
type IncompleteUploadError struct {
	ID       string
	Received int
	Expected int
	// Missing is the first absent index, or -1 when the shortfall is a
	// plain count mismatch.
	Missing int
}

func (e IncompleteUploadError) Error() string {
	return "upload is not complete"
}

// ChunkOutOfRangeError is returned when a chunk index falls outside
// [0, totalChunks).
type ChunkOutOfRangeError struct {
	Index int
	Total int
}

func (e ChunkOutOfRangeError) Error() string {
	return "chunk index out of range"
}
