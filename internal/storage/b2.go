package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/voxlens/voxlens/internal/common"
)

// B2Client talks to a Backblaze-B2-compatible API. Auth tokens are
// short-lived and fetched per operation; the handshake calls retry with
// exponential backoff since they are cheap and idempotent.
type B2Client struct {
	cfg        common.StorageConfig
	httpClient *http.Client
	log        *slog.Logger
}

func NewB2Client(cfg common.StorageConfig, log *slog.Logger) *B2Client {
	if log == nil {
		log = slog.Default()
	}
	return &B2Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

type authState struct {
	Token       string `json:"authorizationToken"`
	APIURL      string `json:"apiUrl"`
	DownloadURL string `json:"downloadUrl"`
}

func (c *B2Client) authorize(ctx context.Context) (*authState, error) {
	var auth authState
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			"https://api.backblazeb2.com/b2api/v2/b2_authorize_account", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		cred := base64.StdEncoding.EncodeToString([]byte(c.cfg.KeyID + ":" + c.cfg.AppKey))
		req.Header.Set("Authorization", "Basic "+cred)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			if resp.StatusCode == http.StatusUnauthorized {
				return backoff.Permanent(fmt.Errorf("storage auth status %d: %s", resp.StatusCode, string(b)))
			}
			return fmt.Errorf("storage auth status %d: %s", resp.StatusCode, string(b))
		}
		return json.NewDecoder(resp.Body).Decode(&auth)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return &auth, nil
}

func (c *B2Client) apiCall(ctx context.Context, auth *authState, endpoint string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		auth.APIURL+"/b2api/v2/"+endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", auth.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s status %d: %s", endpoint, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *B2Client) UploadFile(ctx context.Context, data []byte, name, owner string) (string, error) {
	auth, err := c.authorize(ctx)
	if err != nil {
		return "", err
	}

	var upload struct {
		UploadURL string `json:"uploadUrl"`
		Token     string `json:"authorizationToken"`
	}
	if err := c.apiCall(ctx, auth, "b2_get_upload_url",
		map[string]string{"bucketId": c.cfg.BucketID}, &upload); err != nil {
		return "", err
	}

	key := fmt.Sprintf("uploads/%s-%d-%s", owner, time.Now().UnixMilli(), name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upload.UploadURL, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", upload.Token)
	req.Header.Set("X-Bz-File-Name", url.PathEscape(key))
	req.Header.Set("Content-Type", contentTypeFor(name))
	req.Header.Set("X-Bz-Content-Sha1", "do_not_verify")
	req.ContentLength = int64(len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload status %d: %s", resp.StatusCode, string(raw))
	}

	c.log.Info("storage.upload.ok", "key", key, "bytes", len(data))
	return key, nil
}

func (c *B2Client) GetFileStream(ctx context.Context, key string) (io.ReadCloser, error) {
	auth, err := c.authorize(ctx)
	if err != nil {
		return nil, err
	}

	downloadURL := fmt.Sprintf("%s/file/%s/%s", auth.DownloadURL, c.cfg.BucketName, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", auth.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("download status %d: %s", resp.StatusCode, string(raw))
	}
	return resp.Body, nil
}

func (c *B2Client) DeleteFile(ctx context.Context, key string) error {
	auth, err := c.authorize(ctx)
	if err != nil {
		return err
	}

	// Deleting needs the file ID, which only listing reveals.
	var listing struct {
		Files []struct {
			FileID   string `json:"fileId"`
			FileName string `json:"fileName"`
		} `json:"files"`
	}
	if err := c.apiCall(ctx, auth, "b2_list_file_names", map[string]any{
		"bucketId":      c.cfg.BucketID,
		"startFileName": key,
		"maxFileCount":  1,
	}, &listing); err != nil {
		return err
	}
	if len(listing.Files) == 0 || listing.Files[0].FileName != key {
		return common.ErrNotFound
	}

	if err := c.apiCall(ctx, auth, "b2_delete_file_version", map[string]string{
		"fileId":   listing.Files[0].FileID,
		"fileName": key,
	}, nil); err != nil {
		return err
	}
	c.log.Info("storage.delete.ok", "key", key)
	return nil
}

func (c *B2Client) GetPresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	auth, err := c.authorize(ctx)
	if err != nil {
		return "", err
	}

	var dl struct {
		Token string `json:"authorizationToken"`
	}
	if err := c.apiCall(ctx, auth, "b2_get_download_authorization", map[string]any{
		"bucketId":               c.cfg.BucketID,
		"fileNamePrefix":         key,
		"validDurationInSeconds": int(ttl.Seconds()),
	}, &dl); err != nil {
		return "", err
	}

	return fmt.Sprintf("%s/file/%s/%s?Authorization=%s",
		auth.DownloadURL, c.cfg.BucketName, key, url.QueryEscape(dl.Token)), nil
}

func (c *B2Client) StartMultipartUpload(ctx context.Context, key string) (string, error) {
	auth, err := c.authorize(ctx)
	if err != nil {
		return "", err
	}

	var started struct {
		FileID string `json:"fileId"`
	}
	if err := c.apiCall(ctx, auth, "b2_start_large_file", map[string]string{
		"bucketId":    c.cfg.BucketID,
		"fileName":    key,
		"contentType": contentTypeFor(key),
	}, &started); err != nil {
		return "", err
	}
	c.log.Info("storage.multipart.start", "key", key, "file_id", started.FileID)
	return started.FileID, nil
}

func (c *B2Client) CompleteMultipartUpload(ctx context.Context, fileID string, partHashes []string) error {
	auth, err := c.authorize(ctx)
	if err != nil {
		return err
	}
	if err := c.apiCall(ctx, auth, "b2_finish_large_file", map[string]any{
		"fileId":        fileID,
		"partSha1Array": partHashes,
	}, nil); err != nil {
		return err
	}
	c.log.Info("storage.multipart.finish", "file_id", fileID, "parts", len(partHashes))
	return nil
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
