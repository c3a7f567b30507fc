// Package installer downloads, verifies and unpacks mesh client installers.
package installer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/ryvie/ryvie-launcher/pkg/bytesize"
)

// ErrTooLarge is returned when a download exceeds the configured size limit.
var ErrTooLarge = errors.New("download exceeds size limit")

// Config holds the configuration for the downloader.
type Config struct {
	Timeout   time.Duration // Whole-download bound (defaults to 5m)
	MaxSize   int64         // Size limit in bytes (defaults to 200MB)
	UserAgent string        // User-Agent header (defaults to "ryvie-launcher")
	TempDir   string        // Directory for downloaded files (defaults to os.TempDir)
}

// Downloader fetches installer artifacts to temporary files.
type Downloader struct {
	config Config
	client *http.Client
}

// NewDownloader creates a new Downloader with the given configuration.
func NewDownloader(cfg Config) *Downloader {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 200 * bytesize.MB
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "ryvie-launcher"
	}

	return &Downloader{
		config: cfg,
		client: &http.Client{},
	}
}

// ProgressFunc is called during download with progress information.
type ProgressFunc func(downloaded, total int64)

// Download fetches url into a temporary file named after pattern and returns
// its path. The caller removes the file.
func (d *Downloader) Download(ctx context.Context, url, pattern string, progressFn ProgressFunc) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.config.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: status %d", resp.StatusCode)
	}

	if resp.ContentLength > d.config.MaxSize {
		return "", fmt.Errorf("%w: %s > %s", ErrTooLarge,
			bytesize.Format(resp.ContentLength), bytesize.Format(d.config.MaxSize))
	}

	if pattern == "" {
		pattern = "ryvie-installer-*"
	}
	tmpFile, err := os.CreateTemp(d.config.TempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	var total int64
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	var reader io.Reader = io.LimitReader(resp.Body, d.config.MaxSize+1)
	if progressFn != nil {
		reader = &progressReader{
			reader:     reader,
			total:      total,
			progressFn: progressFn,
		}
	}

	n, err := io.Copy(tmpFile, reader)
	if err == nil && n > d.config.MaxSize {
		err = fmt.Errorf("%w: more than %s", ErrTooLarge, bytesize.Format(d.config.MaxSize))
	}
	if err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		if errors.Is(err, ErrTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpFile.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}

	log.Debug().
		Str("url", url).
		Str("path", tmpFile.Name()).
		Str("size", bytesize.Format(n)).
		Msg("installer downloaded")

	return tmpFile.Name(), nil
}

// progressReader wraps a reader to report download progress.
type progressReader struct {
	reader     io.Reader
	total      int64
	downloaded int64
	progressFn ProgressFunc
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.downloaded += int64(n)
	r.progressFn(r.downloaded, r.total)
	return n, err
}

// CalculateChecksum calculates the SHA256 checksum of a file.
func CalculateChecksum(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("calculate hash: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum verifies that a file matches the expected SHA256 hash.
// An empty expected hash skips verification.
func VerifyChecksum(filePath, expectedHash string) error {
	expectedHash = strings.TrimSpace(expectedHash)
	if expectedHash == "" {
		return nil
	}

	actualHash, err := CalculateChecksum(filePath)
	if err != nil {
		return err
	}

	if !strings.EqualFold(actualHash, expectedHash) {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expectedHash, actualHash)
	}

	return nil
}
