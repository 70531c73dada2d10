// internal/imtypes/storage_service_iface.go
package imtypes

import (
	"context"
	"io"
)

// StorageService stores attachment bytes.
// Kept in imtypes so the gateway and storage packages do not import each other.
type StorageService interface {
	// UploadFile stores the reader's content and returns its FileInfo.
	UploadFile(ctx context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*FileInfo, error)
	// FileURL returns the public URL for a stored file id.
	FileURL(ctx context.Context, fileID string) (string, error)
}
