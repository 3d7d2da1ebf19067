// Package storage provides the photo storage collaborator: raw image bytes
// in, publicly dereferenceable URL out.
package storage

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	apperrors "github.com/sitepatrol/backend/internal/errors"
)

// PhotoStore accepts image bytes plus a folder hint and returns a public URL.
// Retries and CDN behavior are the store's concern, not the caller's.
type PhotoStore interface {
	Store(photo []byte, folder string) (string, error)
	// Remove deletes a previously stored photo by its URL. Used to roll back
	// when a submission fails after upload.
	Remove(url string) error
}

// DiskStore stores photos on the local filesystem and serves them under a
// public base URL.
type DiskStore struct {
	baseDir string
	baseURL string
}

// NewDiskStore creates a DiskStore rooted at baseDir, serving under baseURL.
func NewDiskStore(baseDir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create photo directory: %w", err)
	}
	return &DiskStore{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Store writes the photo under a uuid-derived name and returns its URL.
func (s *DiskStore) Store(photo []byte, folder string) (string, error) {
	if len(photo) == 0 {
		return "", apperrors.New(apperrors.ErrStorageFailed, "empty photo")
	}

	ext := mimetype.Detect(photo).Extension()
	if ext == "" {
		ext = ".bin"
	}
	name := uuid.New().String() + ext

	folder = path.Clean("/" + folder)
	dir := filepath.Join(s.baseDir, filepath.FromSlash(folder))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorageFailed, "failed to create folder", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), photo, 0644); err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorageFailed, "failed to write photo", err)
	}

	return s.baseURL + path.Join(folder, name), nil
}

// Remove deletes the stored file behind a URL produced by Store. Unknown
// URLs are ignored.
func (s *DiskStore) Remove(url string) error {
	if !strings.HasPrefix(url, s.baseURL+"/") {
		return nil
	}
	rel := strings.TrimPrefix(url, s.baseURL)
	target := filepath.Join(s.baseDir, filepath.FromSlash(path.Clean(rel)))
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.ErrStorageFailed, "failed to remove photo", err)
	}
	return nil
}
