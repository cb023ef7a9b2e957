// drop-test exercises a running cryptdrop server end to end: encrypt a
// random payload, upload it in chunks, fetch it back once, verify the
// plaintext, and confirm the token is spent.
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"flag"
	"strings"
	"time"

	"cryptdrop/pkg/client"
	"cryptdrop/pkg/log"
	"cryptdrop/pkg/models"
	"cryptdrop/pkg/vaultcrypt"

	"github.com/dustin/go-humanize"
)

const (
	defaultServerURL = "http://127.0.0.1:8080"
	defaultFileSize  = 1 << 20
	defaultChunkSize = 256 * 1024
	runTimeout       = 5 * time.Minute
)

func main() {
	serverURL := flag.String("server", defaultServerURL, "Server base URL")
	fileSize := flag.Int("size", defaultFileSize, "Test payload size in bytes")
	chunkSize := flag.Int("chunk", defaultChunkSize, "Chunk size in bytes")
	alias := flag.String("alias", "", "Optional alias to register for the upload")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	plaintext := make([]byte, *fileSize)
	if _, err := rand.Read(plaintext); err != nil {
		log.Fatal().Err(err).Msg("Failed to generate payload")
	}

	keyBuf := make([]byte, 32)
	if _, err := rand.Read(keyBuf); err != nil {
		log.Fatal().Err(err).Msg("Failed to generate key")
	}
	keySecret := hex.EncodeToString(keyBuf)

	ciphertext, iv, salt, err := vaultcrypt.Encrypt(plaintext, keySecret)
	if err != nil {
		log.Fatal().Err(err).Msg("Encryption failed")
	}

	meta := models.SessionMeta{
		OriginalName:  "drop-test.bin",
		OriginalSize:  int64(len(plaintext)),
		EncryptionKey: keySecret,
		IV:            iv,
		Salt:          salt,
		MetadataIV:    base64.StdEncoding.EncodeToString([]byte("drop-test")),
	}

	c := client.New(*serverURL)
	c.SetChunkSize(*chunkSize)

	start := time.Now()
	result, err := c.Upload(ctx, meta, ciphertext, *alias)
	if err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}
	log.Info().
		Str("token", result.DownloadToken).
		Str("alias", result.Alias).
		Str("size", humanize.Bytes(uint64(len(ciphertext)))).
		Dur("elapsed", time.Since(start)).
		Msg("Upload complete")

	ref := result.DownloadToken
	if result.Alias != "" {
		ref = result.Alias
	}

	fetched, headers, err := c.Download(ctx, ref, "")
	if err != nil {
		log.Fatal().Err(err).Msg("Download failed")
	}

	decrypted, err := vaultcrypt.Decrypt(fetched, headers.Get("X-Encryption-Key"), headers.Get("X-IV"), headers.Get("X-Salt"))
	if err != nil {
		log.Fatal().Err(err).Msg("Decryption failed")
	}
	if !bytes.Equal(decrypted, plaintext) {
		log.Fatal().Msg("Round-trip mismatch: decrypted payload differs from original")
	}
	log.Info().Msg("Round-trip verified")

	// One-time use: the second fetch must fail.
	if _, _, err := c.Download(ctx, result.DownloadToken, ""); err == nil {
		log.Fatal().Msg("Token was served twice")
	} else if !strings.Contains(err.Error(), "404") && !strings.Contains(err.Error(), "410") {
		log.Fatal().Err(err).Msg("Unexpected error on second download")
	}
	log.Info().Msg("Single-use verified")
}
