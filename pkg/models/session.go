package models

// SessionMeta is the caller-supplied metadata that starts a chunked upload.
// All fields except the password pair are mandatory; the HTTP layer rejects
// requests with missing fields before the registry is invoked.
type SessionMeta struct {
	OriginalName string `json:"originalName"`
	OriginalSize int64  `json:"originalSize"`

	// Size and chunk count of the encrypted payload being transmitted.
	TotalSize   int64 `json:"totalSize"`
	TotalChunks int   `json:"totalChunks"`

	EncryptionKey string `json:"encryptionKey"`
	IV            string `json:"iv"`
	Salt          string `json:"salt"`
	MetadataIV    string `json:"metadataIv"`

	PwSalt     string `json:"pwSalt,omitempty"`
	PwVerifier string `json:"pwVerifier,omitempty"`
}

// UploadResult is returned by the upload completion flow.
type UploadResult struct {
	Success       bool   `json:"success"`
	DownloadToken string `json:"downloadToken"`
	DownloadURL   string `json:"downloadUrl,omitempty"`
	Alias         string `json:"alias,omitempty"`
	AliasURL      string `json:"aliasUrl,omitempty"`
	OriginalName  string `json:"originalName"`
	Size          int64  `json:"size"`
	ExpiresAt     string `json:"expiresAt"` // RFC3339
}

// ChunkProgress reports per-chunk upload progress.
type ChunkProgress struct {
	Success        bool `json:"success"`
	ChunksReceived int  `json:"chunksReceived"`
	TotalChunks    int  `json:"totalChunks"`
}
