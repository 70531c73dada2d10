package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"assoc-messaging/internal/config"
	"assoc-messaging/internal/imtypes"

	"github.com/google/uuid"
)

// LocalStorageService implements imtypes.StorageService on the local filesystem.
// A file's id is its stored name, so URLs can be rebuilt without a lookup table.
type LocalStorageService struct {
	basePath string // e.g. "./uploads"
	baseURL  string // e.g. "/uploads", where the gateway serves basePath
}

// NewLocalStorageService creates the storage directory if needed.
func NewLocalStorageService(cfg config.StorageConfig) (imtypes.StorageService, error) {
	if err := os.MkdirAll(cfg.LocalPath, 0755); err != nil {
		return nil, fmt.Errorf("create storage directory '%s': %w", cfg.LocalPath, err)
	}
	return &LocalStorageService{
		basePath: cfg.LocalPath,
		baseURL:  cfg.PublicPrefix,
	}, nil
}

func (s *LocalStorageService) urlFor(fileID string) string {
	return strings.TrimSuffix(s.baseURL, "/") + "/" + url.PathEscape(fileID)
}

// UploadFile saves the reader's content under a fresh uuid name that keeps the
// original extension. A negative fileSize skips the length check.
func (s *LocalStorageService) UploadFile(ctx context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*imtypes.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ext := filepath.Ext(fileName)
	if ext == "" {
		// fall back to the mime type
		extensions, _ := mime.ExtensionsByType(mimeType)
		if len(extensions) > 0 {
			ext = extensions[0]
		}
	}
	uniqueFileName := uuid.New().String() + ext
	dstPath := filepath.Join(s.basePath, uniqueFileName)

	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, fmt.Errorf("create file '%s': %w", dstPath, err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, reader)
	if err != nil {
		os.Remove(dstPath)
		return nil, fmt.Errorf("write file: %w", err)
	}
	if fileSize >= 0 && written != fileSize {
		os.Remove(dstPath)
		return nil, fmt.Errorf("file size mismatch: expected %d, wrote %d", fileSize, written)
	}

	return &imtypes.FileInfo{
		ID:       uniqueFileName,
		URL:      s.urlFor(uniqueFileName),
		Path:     dstPath,
		Size:     written,
		MimeType: mimeType,
		FileName: fileName,
	}, nil
}

// FileURL returns the public URL of a stored file, or imtypes.ErrNotFound.
func (s *LocalStorageService) FileURL(ctx context.Context, fileID string) (string, error) {
	if fileID == "" || fileID != filepath.Base(fileID) || strings.HasPrefix(fileID, ".") {
		return "", imtypes.ErrNotFound
	}
	info, err := os.Stat(filepath.Join(s.basePath, fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", imtypes.ErrNotFound
		}
		return "", fmt.Errorf("stat %s: %w", fileID, err)
	}
	if info.IsDir() {
		return "", imtypes.ErrNotFound
	}
	return s.urlFor(fileID), nil
}
