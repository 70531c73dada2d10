// internal/imtypes/file_info.go
package imtypes

// FileInfo describes a stored attachment and where it can be fetched.
type FileInfo struct {
	ID       string `json:"id"`       // storage identifier, used for download URLs
	URL      string `json:"url"`      // publicly reachable URL
	Path     string `json:"path"`     // location inside the storage backend
	Size     int64  `json:"size"`     // bytes
	MimeType string `json:"mimeType"`
	FileName string `json:"fileName"` // original file name
}
