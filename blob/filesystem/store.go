package filesystem

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"driftcanvas/errdefs"

	"github.com/sirupsen/logrus"
)

type fsStore struct {
	basePath string
}

// NewStore creates a new filesystem-based blob store.
func NewStore(basePath string) *fsStore {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Fatalf("failed to create base directory: %v", err)
	}
	return &fsStore{basePath: basePath}
}

// resolve maps a slash-separated key onto the base directory and verifies the
// result stays inside it.
func (s *fsStore) resolve(key string) (string, error) {
	filePath := filepath.Join(s.basePath, filepath.FromSlash(key))

	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", err
	}
	absFile, err := filepath.Abs(filePath)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absFile, absBase+string(os.PathSeparator)) {
		return "", errdefs.New(errdefs.CodeValidation, "invalid blob key: access denied")
	}
	return absFile, nil
}

func (s *fsStore) Put(ctx context.Context, key string, data []byte) error {
	filePath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		logrus.WithField("key", key).WithError(err).Error("Failed to create blob directory")
		return err
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		logrus.WithField("key", key).WithError(err).Error("Failed to write blob")
		return err
	}
	return nil
}

func (s *fsStore) Get(ctx context.Context, key string) ([]byte, error) {
	filePath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound("blob not found")
		}
		logrus.WithField("key", key).WithError(err).Error("Failed to read blob")
		return nil, err
	}
	return data, nil
}

func (s *fsStore) Delete(ctx context.Context, key string) error {
	filePath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil // If it doesn't exist, the goal is achieved.
		}
		return err
	}
	return nil
}
