package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/voxlens/voxlens/internal/common"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())

	key, err := store.UploadFile(ctx, []byte("opus-bytes"), "standup.opus", "user-1")
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if !strings.HasPrefix(key, "uploads/user-1-") || !strings.HasSuffix(key, "-standup.opus") {
		t.Errorf("key = %q", key)
	}

	rc, err := store.GetFileStream(ctx, key)
	if err != nil {
		t.Fatalf("GetFileStream: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil || string(data) != "opus-bytes" {
		t.Errorf("read back %q (err %v)", data, err)
	}

	url, err := store.GetPresignedURL(ctx, key, time.Minute)
	if err != nil || !strings.HasPrefix(url, "file://") {
		t.Errorf("GetPresignedURL = %q, %v", url, err)
	}

	if err := store.DeleteFile(ctx, key); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := store.GetFileStream(ctx, key); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("stream after delete = %v, want ErrNotFound", err)
	}
	if err := store.DeleteFile(ctx, key); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("double delete = %v, want ErrNotFound", err)
	}
}
