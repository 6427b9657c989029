package meta

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/luhtaf/blobseen/internal/blobid"
)

// BlobMeta carries blob properties for cataloguing and upload.
type BlobMeta struct {
	Path    string
	Name    string
	ID      blobid.ID
	MIME    string
	ModTime time.Time
	Size    int64
}

// GuessMIME guesses MIME from file extension.
func GuessMIME(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt", ".md":
		return "text/plain"
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".go", ".py", ".rs", ".js", ".sh":
		return "text/x-source"
	case ".pcap":
		return "application/vnd.tcpdump.pcap"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".zip":
		return "application/zip"
	case ".gz":
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
