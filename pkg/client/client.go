// Package client implements the chunked-upload protocol against a cryptdrop
// server. Chunk uploads are retried independently, so a transient failure
// costs one chunk rather than the whole transfer.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cryptdrop/pkg/models"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultChunkSize mirrors the browser uploader's 5 MB chunks.
	DefaultChunkSize = 5 * 1024 * 1024

	defaultTimeout = 2 * time.Minute
	retryMax       = 3
)

// Client talks to one cryptdrop server.
type Client struct {
	baseURL   string
	http      *retryablehttp.Client
	chunkSize int
}

// New creates a client for the given base URL.
func New(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	rc.HTTPClient.Timeout = defaultTimeout
	rc.Logger = nil

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      rc,
		chunkSize: DefaultChunkSize,
	}
}

// SetChunkSize overrides the chunk size; values below 1 are ignored.
func (c *Client) SetChunkSize(n int) {
	if n > 0 {
		c.chunkSize = n
	}
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

type startResponse struct {
	Success  bool   `json:"success"`
	UploadID string `json:"uploadId"`
}

// StartSession opens an upload session for the given metadata.
func (c *Client) StartSession(ctx context.Context, meta models.SessionMeta) (string, error) {
	var resp startResponse
	if err := c.postJSON(ctx, "/api/upload/start", meta, &resp); err != nil {
		return "", err
	}
	if resp.UploadID == "" {
		return "", fmt.Errorf("server did not return an upload id")
	}
	return resp.UploadID, nil
}

// UploadChunk sends one chunk as a multipart form.
func (c *Client) UploadChunk(ctx context.Context, uploadID string, index int, data []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("uploadId", uploadID); err != nil {
		return fmt.Errorf("failed to build form: %w", err)
	}
	if err := writer.WriteField("chunkIndex", strconv.Itoa(index)); err != nil {
		return fmt.Errorf("failed to build form: %w", err)
	}
	part, err := writer.CreateFormFile("chunk", fmt.Sprintf("chunk-%d", index))
	if err != nil {
		return fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to build form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to build form: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload/chunk", buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chunk %d failed: %w", index, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chunk %d: server returned %d: %s", index, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Complete finishes the session, optionally requesting an alias, and
// returns the minted capability.
func (c *Client) Complete(ctx context.Context, uploadID, alias string) (*models.UploadResult, error) {
	payload := map[string]string{"uploadId": uploadID}
	if alias != "" {
		payload["alias"] = alias
	}
	var result models.UploadResult
	if err := c.postJSON(ctx, "/api/upload/complete", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Upload runs the whole protocol: start, chunks in index order, complete.
func (c *Client) Upload(ctx context.Context, meta models.SessionMeta, ciphertext []byte, alias string) (*models.UploadResult, error) {
	totalChunks := (len(ciphertext) + c.chunkSize - 1) / c.chunkSize
	meta.TotalSize = int64(len(ciphertext))
	meta.TotalChunks = totalChunks

	uploadID, err := c.StartSession(ctx, meta)
	if err != nil {
		return nil, err
	}

	for i := 0; i < totalChunks; i++ {
		start := i * c.chunkSize
		end := start + c.chunkSize
		if end > len(ciphertext) {
			end = len(ciphertext)
		}
		if err := c.UploadChunk(ctx, uploadID, i, ciphertext[start:end]); err != nil {
			return nil, err
		}
	}

	return c.Complete(ctx, uploadID, alias)
}

// Download fetches and consumes a token or alias, returning the ciphertext
// and the key material headers.
func (c *Client) Download(ctx context.Context, ref, password string) ([]byte, http.Header, error) {
	u := c.baseURL + "/api/file/" + ref
	if password != "" {
		u += "?password=" + url.QueryEscape(password)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("download failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, resp.Header, nil
}
