package server

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"

	"cryptdrop/pkg/vaultcrypt"
)

// doSingleUpload posts one multipart form to the single-shot endpoint.
func (s *ServerTestSuite) doSingleUpload(fields map[string]string, payload []byte) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		s.Require().NoError(writer.WriteField(key, value))
	}
	if payload != nil {
		part, err := writer.CreateFormFile("encryptedFile", "blob")
		s.Require().NoError(err)
		_, err = part.Write(payload)
		s.Require().NoError(err)
	}
	s.Require().NoError(writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	s.server.echo.ServeHTTP(rec, req)
	return rec
}

// TestSingleShotUpload tests the whole-file upload path: one form, one
// minted token, plaintext recovered through the download route.
func (s *ServerTestSuite) TestSingleShotUpload() {
	plaintext := []byte("small enough to skip chunking")
	ciphertext, ivB64, saltB64, err := vaultcrypt.Encrypt(plaintext, "one-shot-key")
	s.Require().NoError(err)

	rec := s.doSingleUpload(map[string]string{
		"originalName":  "memo.txt",
		"originalSize":  "29",
		"encryptionKey": "one-shot-key",
		"iv":            ivB64,
		"salt":          saltB64,
		"metadataIv":    "bWV0YQ==",
	}, ciphertext)
	s.Require().Equal(http.StatusOK, rec.Code)

	body := s.decode(rec)
	token, _ := body["downloadToken"].(string)
	s.Len(token, 64)
	s.Equal("memo.txt", body["originalName"])
	s.NotEmpty(body["filename"])
	s.Contains(body["downloadUrl"], token)

	dl := s.doJSON(http.MethodGet, "/api/download/"+token, nil)
	s.Require().Equal(http.StatusOK, dl.Code)
	s.Equal(plaintext, dl.Body.Bytes())
}

// TestSingleShotUploadValidation tests missing form fields.
func (s *ServerTestSuite) TestSingleShotUploadValidation() {
	rec := s.doSingleUpload(map[string]string{
		"originalName": "memo.txt",
	}, []byte("cipher"))
	s.Equal(http.StatusBadRequest, rec.Code)

	// Metadata without the file is just as incomplete.
	rec = s.doSingleUpload(map[string]string{
		"originalName":  "memo.txt",
		"originalSize":  "6",
		"encryptionKey": "k",
		"iv":            "aXY=",
		"salt":          "c2FsdA==",
		"metadataIv":    "bQ==",
	}, nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

// TestStartUploadRejectsMissingFields tests session start validation.
func (s *ServerTestSuite) TestStartUploadRejectsMissingFields() {
	meta := s.sessionMeta()
	meta.EncryptionKey = ""

	rec := s.doJSON(http.MethodPost, "/api/upload/start", meta)
	s.Equal(http.StatusBadRequest, rec.Code)
}

// TestChunkUnknownSession tests chunk delivery to a session that does
// not exist.
func (s *ServerTestSuite) TestChunkUnknownSession() {
	rec := s.doChunk("no-such-session", 0, []byte("data"))
	s.Equal(http.StatusNotFound, rec.Code)
}

// TestChunkIndexOutOfRange tests index validation against the declared
// chunk count.
func (s *ServerTestSuite) TestChunkIndexOutOfRange() {
	startRec := s.doJSON(http.MethodPost, "/api/upload/start", s.sessionMeta())
	s.Require().Equal(http.StatusOK, startRec.Code)
	uploadID, _ := s.decode(startRec)["uploadId"].(string)

	rec := s.doChunk(uploadID, 5, []byte("data"))
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.doChunk(uploadID, -1, []byte("data"))
	s.Equal(http.StatusBadRequest, rec.Code)
}

// TestChunkProgressReporting tests the per-chunk progress response.
func (s *ServerTestSuite) TestChunkProgressReporting() {
	meta := s.sessionMeta()
	meta.TotalChunks = 3

	startRec := s.doJSON(http.MethodPost, "/api/upload/start", meta)
	s.Require().Equal(http.StatusOK, startRec.Code)
	uploadID, _ := s.decode(startRec)["uploadId"].(string)

	rec := s.doChunk(uploadID, 1, []byte("bb"))
	s.Require().Equal(http.StatusOK, rec.Code)
	body := s.decode(rec)
	s.EqualValues(1, body["chunksReceived"])
	s.EqualValues(3, body["totalChunks"])

	rec = s.doChunk(uploadID, 0, []byte("aa"))
	s.Require().Equal(http.StatusOK, rec.Code)
	s.EqualValues(2, s.decode(rec)["chunksReceived"])
}

// TestCompleteIncompleteUpload tests completion with chunks missing.
func (s *ServerTestSuite) TestCompleteIncompleteUpload() {
	meta := s.sessionMeta()
	meta.TotalChunks = 2

	startRec := s.doJSON(http.MethodPost, "/api/upload/start", meta)
	s.Require().Equal(http.StatusOK, startRec.Code)
	uploadID, _ := s.decode(startRec)["uploadId"].(string)

	s.Require().Equal(http.StatusOK, s.doChunk(uploadID, 0, []byte("aa")).Code)

	rec := s.doJSON(http.MethodPost, "/api/upload/complete", map[string]string{"uploadId": uploadID})
	s.Equal(http.StatusBadRequest, rec.Code)
	body := s.decode(rec)
	s.EqualValues(1, body["chunksReceived"])
	s.EqualValues(2, body["totalChunks"])

	// The session survives a failed completion; the missing chunk can
	// still be delivered.
	s.Require().Equal(http.StatusOK, s.doChunk(uploadID, 1, []byte("bb")).Code)
	rec = s.doJSON(http.MethodPost, "/api/upload/complete", map[string]string{"uploadId": uploadID})
	s.Equal(http.StatusOK, rec.Code)
}

// TestCompleteUnknownSession tests completion of a missing session.
func (s *ServerTestSuite) TestCompleteUnknownSession() {
	rec := s.doJSON(http.MethodPost, "/api/upload/complete", map[string]string{"uploadId": "gone"})
	s.Equal(http.StatusNotFound, rec.Code)
}

// TestCompleteOutOfOrderChunks tests the full start/chunk/complete flow
// with chunks delivered out of order.
func (s *ServerTestSuite) TestCompleteOutOfOrderChunks() {
	meta := s.sessionMeta()
	meta.TotalChunks = 3

	result := s.uploadFixture(meta, map[int][]byte{
		2: []byte("CC"),
		0: []byte("AA"),
		1: []byte("BB"),
	}, "")

	s.Equal(true, result["success"])
	token, _ := result["downloadToken"].(string)
	s.Len(token, 64)
	s.Contains(result["downloadUrl"], token)
	s.Equal("notes.txt", result["originalName"])
}

// TestCompleteRetiresSession tests that a spent session cannot be
// completed twice.
func (s *ServerTestSuite) TestCompleteRetiresSession() {
	startRec := s.doJSON(http.MethodPost, "/api/upload/start", s.sessionMeta())
	s.Require().Equal(http.StatusOK, startRec.Code)
	uploadID, _ := s.decode(startRec)["uploadId"].(string)

	s.Require().Equal(http.StatusOK, s.doChunk(uploadID, 0, []byte("cipher")).Code)

	rec := s.doJSON(http.MethodPost, "/api/upload/complete", map[string]string{"uploadId": uploadID})
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.doJSON(http.MethodPost, "/api/upload/complete", map[string]string{"uploadId": uploadID})
	s.Equal(http.StatusNotFound, rec.Code)
}

// TestCompleteWithAlias tests alias linking during completion.
func (s *ServerTestSuite) TestCompleteWithAlias() {
	result := s.uploadFixture(s.sessionMeta(), map[int][]byte{0: []byte("cipher")}, "My-Report.2024")

	s.Equal("my-report.2024", result["alias"])
	s.Contains(result["aliasUrl"], "my-report.2024")

	_, ok := s.aliases.Get("my-report.2024")
	s.True(ok)
}

// TestCompleteWithInvalidAliasStillSucceeds tests that a bad alias does
// not fail the upload itself.
func (s *ServerTestSuite) TestCompleteWithInvalidAliasStillSucceeds() {
	result := s.uploadFixture(s.sessionMeta(), map[int][]byte{0: []byte("cipher")}, "-bad-alias")

	s.Equal(true, result["success"])
	s.NotEmpty(result["downloadToken"])
	_, hasAlias := result["alias"]
	s.False(hasAlias)
	s.Equal(0, s.aliases.Size())
}

// TestZeroChunkUpload tests completing a session that declared no chunks.
func (s *ServerTestSuite) TestZeroChunkUpload() {
	meta := s.sessionMeta()
	meta.TotalChunks = 0

	result := s.uploadFixture(meta, nil, "")
	s.NotEmpty(result["downloadToken"])
}
