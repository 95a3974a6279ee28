// Package blob abstracts binary payload storage. Asset bytes live here; the
// metadata rows describing them live in the stores package.
package blob

import (
	"context"
	"fmt"
	"os"
	"path"

	"driftcanvas/blob/filesystem"
	"driftcanvas/blob/memory"
	"driftcanvas/blob/s3"

	"github.com/sirupsen/logrus"
)

// Store is the minimal contract the upload gateway needs. Keys are opaque
// slash-separated strings formed with SafeKey. Content types are not tracked
// here; the asset record owns the MIME type.
type Store interface {
	// Put stores data under key, replacing any previous payload.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the payload for key. Missing keys yield a not_found
	// taxonomy error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the payload. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// SafeKey joins key parts after rejecting anything that could traverse out of
// its segment. Each part must be a simple name, not a path.
func SafeKey(parts ...string) (string, error) {
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return "", fmt.Errorf("invalid key part: must not be empty or a dot directory")
		}
		if path.Base(p) != p {
			return "", fmt.Errorf("invalid key part: must not be a path")
		}
	}
	return path.Join(parts...), nil
}

func GetStore() Store {
	blobStorage := os.Getenv("BLOB_STORAGE")
	var store Store

	storageField := logrus.Fields{
		"blobStorage": blobStorage,
	}

	switch blobStorage {
	case "memory":
		store = memory.NewStore()
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 blob storage")
		}
		storageField["bucketName"] = bucketName
		store = s3.NewStore(bucketName)
	default:
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		if basePath == "" {
			basePath = "./blobdata" // Default path
		}
		storageField["basePath"] = basePath
		store = filesystem.NewStore(basePath)
	}
	logrus.WithFields(storageField).Info("Use blob storage")
	return store
}
