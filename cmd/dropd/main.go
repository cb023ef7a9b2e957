package main

import (
	"flag"
	"os"
	"path/filepath"

	"cryptdrop/pkg/blob"
	"cryptdrop/pkg/keeper"
	"cryptdrop/pkg/log"
	"cryptdrop/pkg/server"
	"cryptdrop/pkg/session"
)

const (
	version     = "1.0.0"
	dataDirPerm = 0o750
)

func main() {
	dataDir := flag.String("data", "data", "Data directory for tokens, aliases and the session checkpoint")
	storageDir := flag.String("storage", "data/uploads", "Storage directory for encrypted files")
	addr := flag.String("addr", ":8080", "Listen address")
	noCheckpoint := flag.Bool("no-checkpoint", false, "Disable upload session checkpointing")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		log.SetDebugMode()
	}

	if err := os.MkdirAll(*dataDir, dataDirPerm); err != nil {
		log.Fatal().Err(err).Str("data_dir", *dataDir).Msg("Failed to create data directory")
	}

	blobs, err := blob.NewStore(*storageDir)
	if err != nil {
		log.Fatal().Err(err).Str("storage_dir", *storageDir).Msg("Failed to create blob store")
	}

	aliases := keeper.NewAliasStore(filepath.Join(*dataDir, "aliases.json"))
	tokens := keeper.NewTokenStore(filepath.Join(*dataDir, "tokens.json"), aliases)
	manager := keeper.NewManager(tokens, aliases, blobs)

	var checkpoint *session.Checkpoint
	if !*noCheckpoint {
		checkpoint, err = session.NewCheckpoint(filepath.Join(*dataDir, "sessions.db"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open session checkpoint")
		}
		defer func() {
			if closeErr := checkpoint.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("Failed to close session checkpoint")
			}
		}()
	}
	registry := session.NewRegistryWithCheckpoint(checkpoint)

	registry.Start()
	manager.Start()

	srv := server.New(registry, manager, version)
	if err := srv.Start(*addr); err != nil {
		log.Fatal().Err(err).Msg("Server failed to start")
	}

	os.Exit(0)
}
