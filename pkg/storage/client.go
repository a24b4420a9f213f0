package storage

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/crowdforge/escrow-engine/pkg/errors"
	"github.com/crowdforge/escrow-engine/pkg/logging"
)

// maxBlobSize caps result/manifest downloads. Oracles exchange small JSON
// documents; anything bigger is a broken or hostile upstream.
const maxBlobSize = 32 << 20

// Client fetches and publishes oracle blobs over HTTP. Downloads can be
// verified against the content hash recorded on the escrow, uploads return
// the hash the caller should record.
type Client struct {
	logger     *logging.ColoredLogger
	httpClient *http.Client
}

// NewClient creates a blob client with the given request timeout.
func NewClient(logger *logging.ColoredLogger, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Download fetches the blob at url.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewValidationError("malformed blob url").WithField(url)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewUpstreamDataError("blob request failed", err).WithURL(url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewUpstreamDataError(
			fmt.Sprintf("blob request returned status %d", resp.StatusCode), nil).WithURL(url)
	}

	blob, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize+1))
	if err != nil {
		return nil, errors.NewUpstreamDataError("failed to read blob body", err).WithURL(url)
	}
	if len(blob) > maxBlobSize {
		return nil, errors.NewUpstreamDataError("blob exceeds size limit", nil).WithURL(url)
	}

	c.logger.ComponentDebug(logging.ComponentStorage, "blob downloaded",
		zap.String("url", url), zap.Int("bytes", len(blob)))
	return blob, nil
}

// DownloadVerified fetches the blob at url and checks its content hash
// against expectedHash (hex sha1, optionally 0x-prefixed). An empty
// expectedHash skips verification.
func (c *Client) DownloadVerified(ctx context.Context, url, expectedHash string) ([]byte, error) {
	blob, err := c.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	if expectedHash == "" {
		return blob, nil
	}

	got := ContentHash(blob)
	want := expectedHash
	if len(want) > 2 && want[:2] == "0x" {
		want = want[2:]
	}
	if got != want {
		return nil, errors.NewUpstreamDataError(
			fmt.Sprintf("blob hash mismatch: expected %s got %s", want, got), nil).WithURL(url)
	}
	return blob, nil
}

// Upload PUTs blob to url and returns its content hash.
func (c *Client) Upload(ctx context.Context, url string, blob []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(blob))
	if err != nil {
		return "", errors.NewValidationError("malformed blob url").WithField(url)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.NewUpstreamDataError("blob upload failed", err).WithURL(url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", errors.NewUpstreamDataError(
			fmt.Sprintf("blob upload returned status %d: %s", resp.StatusCode, string(body)), nil).WithURL(url)
	}

	hash := ContentHash(blob)
	c.logger.ComponentDebug(logging.ComponentStorage, "blob uploaded",
		zap.String("url", url), zap.Int("bytes", len(blob)), zap.String("hash", hash))
	return hash, nil
}

// ContentHash returns the hex sha1 digest oracles record next to blob URLs.
func ContentHash(blob []byte) string {
	sum := sha1.Sum(blob)
	return hex.EncodeToString(sum[:])
}
