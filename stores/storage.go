package stores

import (
	"os"

	"driftcanvas/core"
	"driftcanvas/stores/memory"
	"driftcanvas/stores/postgres"
	"driftcanvas/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// Store is a union interface that includes all metadata store types. Binary
// payloads live in the blob package, not here.
type Store interface {
	core.CanvasStore
	core.AssetStore
	core.QuotaStore
}

func GetStore() Store {
	storageType := os.Getenv("STORAGE_TYPE")
	var store Store

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "driftcanvas.db" // Default filename
		}
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewStore(dataSourceName)
	case "postgres":
		dsn := os.Getenv("DATABASE_DSN")
		if dsn == "" {
			logrus.Fatal("DATABASE_DSN environment variable must be set for postgres storage type")
		}
		pg, err := postgres.NewStore(dsn)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to initialize postgres store")
		}
		store = pg
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use metadata storage")
	return store
}
