package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrTooLarge is returned when an upload exceeds the configured limit
var ErrTooLarge = errors.New("storage: file exceeds size limit")

// ProofStorage keeps uploaded payment proofs on the local filesystem, one
// directory per deal
type ProofStorage struct {
	rootPath       string
	maxUploadBytes int64
}

// NewProofStorage creates the root directory if needed
func NewProofStorage(rootPath string, maxUploadMB int64) (*ProofStorage, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create directory %s: %w", rootPath, err)
	}

	return &ProofStorage{
		rootPath:       rootPath,
		maxUploadBytes: maxUploadMB * 1024 * 1024,
	}, nil
}

// MaxBytes returns the upload limit
func (s *ProofStorage) MaxBytes() int64 {
	return s.maxUploadBytes
}

// Save writes r under the deal's directory and returns the path relative to
// the storage root, which is what gets recorded as the proof reference
func (s *ProofStorage) Save(ctx context.Context, dealID string, actorID int64, ext string, r io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	dir := sanitize(dealID)
	fileName := fmt.Sprintf("%d_%d.%s", actorID, time.Now().UnixNano(), strings.TrimPrefix(sanitize(ext), "."))

	dealDir := filepath.Join(s.rootPath, dir)
	if err := os.MkdirAll(dealDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("storage: failed to create deal directory: %w", err)
	}

	targetPath := filepath.Join(dealDir, fileName)
	tempPath := targetPath + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return "", 0, fmt.Errorf("storage: failed to create file: %w", err)
	}
	defer f.Close()

	limitedReader := io.LimitedReader{R: r, N: s.maxUploadBytes + 1}
	written, err := io.Copy(f, &limitedReader)
	if err != nil {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("storage: failed to write file: %w", err)
	}

	if written > s.maxUploadBytes {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("%w of %d bytes", ErrTooLarge, s.maxUploadBytes)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("storage: failed to close file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("storage: failed to rename file: %w", err)
	}

	return filepath.ToSlash(filepath.Join(dir, fileName)), written, nil
}

// Delete removes a stored proof; a missing file is not an error
func (s *ProofStorage) Delete(ctx context.Context, relativePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := filepath.Join(s.rootPath, filepath.FromSlash(relativePath))
	if !strings.HasPrefix(target, filepath.Clean(s.rootPath)+string(os.PathSeparator)) {
		return fmt.Errorf("storage: path %q escapes the storage root", relativePath)
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: failed to delete file: %w", err)
	}
	return nil
}

// sanitize strips path separators and traversal sequences
func sanitize(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" {
		name = "unknown"
	}
	return name
}
