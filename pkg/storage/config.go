package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the storage providers based on flags. The embedded
// SQLite store is the default; Firestore can take over engine persistence
// while telemetry reads stay on the embedded store, which the ingestion
// subsystem writes to.
func Configured() (Database, Telemetry) {
	provider := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: sqlite, firestore)")
	dataDir := lflag.String("data-dir", defaultDataDir(), "Directory for the embedded database")

	var db struct{ Database }
	var tel struct{ Telemetry }

	fs := configuredFirestore()

	lflag.Do(func() {
		sq, err := OpenSQLite(*dataDir)
		if err != nil {
			panic(fmt.Sprintf("sqlite init failed: %v", err))
		}
		tel.Telemetry = sq

		switch *provider {
		case "sqlite":
			db.Database = sq
		case "firestore":
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
			db.Database = fs
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &db, &tel
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gridhabit"
	}
	return filepath.Join(home, ".gridhabit")
}
