package server

import (
	"encoding/base64"
	"net/http"
	"net/url"

	"cryptdrop/pkg/models"
	"cryptdrop/pkg/vaultcrypt"
)

// uploadEncrypted encrypts plaintext, uploads the ciphertext through the
// API and returns the download token with the metadata that was minted.
func (s *ServerTestSuite) uploadEncrypted(plaintext []byte, keySecret string) (string, models.SessionMeta) {
	ciphertext, ivB64, saltB64, err := vaultcrypt.Encrypt(plaintext, keySecret)
	s.Require().NoError(err)

	meta := models.SessionMeta{
		OriginalName:  "report.pdf",
		OriginalSize:  int64(len(plaintext)),
		TotalSize:     int64(len(ciphertext)),
		TotalChunks:   1,
		EncryptionKey: keySecret,
		IV:            ivB64,
		Salt:          saltB64,
		MetadataIV:    "bWV0YQ==",
	}

	result := s.uploadFixture(meta, map[int][]byte{0: ciphertext}, "")
	token, _ := result["downloadToken"].(string)
	s.Require().NotEmpty(token)
	return token, meta
}

// TestDownloadDecryptsOnce tests the server-side decryption path and
// single-use consumption.
func (s *ServerTestSuite) TestDownloadDecryptsOnce() {
	plaintext := []byte("attack at dawn")
	token, _ := s.uploadEncrypted(plaintext, "hunter2-key")

	rec := s.doJSON(http.MethodGet, "/api/download/"+token, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(plaintext, rec.Body.Bytes())
	s.Contains(rec.Header().Get(`Content-Disposition`), url.PathEscape("report.pdf"))
	s.Equal("application/pdf", rec.Header().Get("Content-Type"))

	// The link is spent.
	rec = s.doJSON(http.MethodGet, "/api/download/"+token, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

// TestServeEncryptedFile tests the ciphertext path: raw bytes plus key
// material in headers, consumed on first fetch.
func (s *ServerTestSuite) TestServeEncryptedFile() {
	plaintext := []byte("client decrypts this")
	token, meta := s.uploadEncrypted(plaintext, "local-key")

	rec := s.doJSON(http.MethodGet, "/api/file/"+token, nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	s.Equal(meta.EncryptionKey, rec.Header().Get("X-Encryption-Key"))
	s.Equal(meta.IV, rec.Header().Get("X-IV"))
	s.Equal(meta.Salt, rec.Header().Get("X-Salt"))
	s.Equal(url.PathEscape("report.pdf"), rec.Header().Get("X-Original-Name"))
	s.Equal("no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))

	decrypted, err := vaultcrypt.Decrypt(rec.Body.Bytes(), meta.EncryptionKey, meta.IV, meta.Salt)
	s.Require().NoError(err)
	s.Equal(plaintext, decrypted)

	rec = s.doJSON(http.MethodGet, "/api/file/"+token, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

// TestDownloadUnknownToken tests the vague not-found response.
func (s *ServerTestSuite) TestDownloadUnknownToken() {
	rec := s.doJSON(http.MethodGet, "/api/download/0123456789abcdef", nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Contains(rec.Body.String(), "invalid or expired download link")
}

// TestDownloadPasswordGate tests the password-protected flow end to end.
func (s *ServerTestSuite) TestDownloadPasswordGate() {
	plaintext := []byte("secrets")
	ciphertext, ivB64, saltB64, err := vaultcrypt.Encrypt(plaintext, "gate-key")
	s.Require().NoError(err)

	pwSaltB64, err := vaultcrypt.NewSalt()
	s.Require().NoError(err)
	pwSalt, err := base64.StdEncoding.DecodeString(pwSaltB64)
	s.Require().NoError(err)

	meta := models.SessionMeta{
		OriginalName:  "vault.bin",
		OriginalSize:  int64(len(plaintext)),
		TotalSize:     int64(len(ciphertext)),
		TotalChunks:   1,
		EncryptionKey: "gate-key",
		IV:            ivB64,
		Salt:          saltB64,
		MetadataIV:    "bWV0YQ==",
		PwSalt:        pwSaltB64,
		PwVerifier:    vaultcrypt.MakeVerifier("open sesame", pwSalt),
	}

	result := s.uploadFixture(meta, map[int][]byte{0: ciphertext}, "")
	token, _ := result["downloadToken"].(string)

	// No password.
	rec := s.doJSON(http.MethodGet, "/api/download/"+token, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)

	// Wrong password. The token must not have been consumed.
	rec = s.doJSON(http.MethodGet, "/api/download/"+token+"?password=guess", nil)
	s.Equal(http.StatusUnauthorized, rec.Code)

	// Correct password.
	rec = s.doJSON(http.MethodGet, "/api/download/"+token+"?password="+url.QueryEscape("open sesame"), nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(plaintext, rec.Body.Bytes())
}

// TestFileInfoDoesNotConsume tests the metadata probe.
func (s *ServerTestSuite) TestFileInfoDoesNotConsume() {
	token, _ := s.uploadEncrypted([]byte("peekaboo"), "info-key")

	for i := 0; i < 2; i++ {
		rec := s.doJSON(http.MethodGet, "/api/file-info/"+token, nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		body := s.decode(rec)
		s.Equal("report.pdf", body["originalName"])
		s.Equal(true, body["isValid"])
		s.Equal(false, body["passwordProtected"])
	}

	// Still claimable after the probes.
	rec := s.doJSON(http.MethodGet, "/api/download/"+token, nil)
	s.Equal(http.StatusOK, rec.Code)
}

// TestDeleteToken tests explicit removal.
func (s *ServerTestSuite) TestDeleteToken() {
	token, _ := s.uploadEncrypted([]byte("short lived"), "del-key")

	rec := s.doJSON(http.MethodDelete, "/api/delete/"+token, nil)
	s.Equal(http.StatusOK, rec.Code)

	rec = s.doJSON(http.MethodGet, "/api/download/"+token, nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.doJSON(http.MethodDelete, "/api/delete/"+token, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}
