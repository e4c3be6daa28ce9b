package storage

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/voxlens/voxlens/internal/common"
)

// LocalStore keeps blobs on the local filesystem. It backs single-machine
// and batch runs where no object store is configured.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	if root == "" {
		root = filepath.Join(os.TempDir(), "voxlens-blobs")
	}
	return &LocalStore{root: root}
}

func (l *LocalStore) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *LocalStore) UploadFile(_ context.Context, data []byte, name, owner string) (string, error) {
	key := fmt.Sprintf("uploads/%s-%d-%s", owner, time.Now().UnixMilli(), name)
	path := l.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("local store: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("local store: %w", err)
	}
	return key, nil
}

func (l *LocalStore) GetFileStream(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(key))
	if os.IsNotExist(err) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("local store: %w", err)
	}
	return f, nil
}

func (l *LocalStore) DeleteFile(_ context.Context, key string) error {
	err := os.Remove(l.path(key))
	if os.IsNotExist(err) {
		return common.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("local store: %w", err)
	}
	return nil
}

func (l *LocalStore) GetPresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, err := os.Stat(l.path(key)); os.IsNotExist(err) {
		return "", common.ErrNotFound
	}
	return "file://" + l.path(key), nil
}

// Multipart uploads degrade to a marker file; parts are concatenated by the
// caller before Complete in local runs.
func (l *LocalStore) StartMultipartUpload(_ context.Context, key string) (string, error) {
	return "local-" + fmt.Sprintf("%x", sha1.Sum([]byte(key))), nil
}

func (l *LocalStore) CompleteMultipartUpload(_ context.Context, fileID string, _ []string) error {
	if !strings.HasPrefix(fileID, "local-") {
		return common.ErrNotFound
	}
	return nil
}
