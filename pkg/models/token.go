package models

// TokenRecord is the durable record behind a download token. Possession of
// the token string is the authority to fetch or delete the file.
type TokenRecord struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	ExpiresAt    int64  `json:"expiresAt"` // unix milliseconds

	// Encryption material, generated client-side and stored verbatim.
	// The server never derives or inspects it.
	EncryptionKey string `json:"encryptionKey"`
	IV            string `json:"iv"`         // base64 encoded
	Salt          string `json:"salt"`       // base64 encoded
	MetadataIV    string `json:"metadataIv"` // base64 encoded

	// Optional password gate, independent of the encryption key.
	PwSalt     string `json:"pwSalt,omitempty"`     // base64 encoded
	PwVerifier string `json:"pwVerifier,omitempty"` // base64 encoded
}

// PasswordProtected reports whether a download additionally requires a
// password proof before release.
func (r *TokenRecord) PasswordProtected() bool {
	return r.PwVerifier != ""
}

// TokenListing is one entry of the status listing. It deliberately carries
// no encryption material.
type TokenListing struct {
	Token        string `json:"token"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	ExpiresAt    string `json:"expiresAt"` // RFC3339
}
