package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"genstudio/internal/domain"
)

// Artifacts persists inline provider output into a FileStore and returns the
// public URL the file is served under.
type Artifacts struct {
	files   *FileStore
	baseURL string
}

func NewArtifacts(files *FileStore, baseURL string) *Artifacts {
	return &Artifacts{files: files, baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *Artifacts) Save(ctx context.Context, generationID string, phase domain.Phase, mime string, data []byte) (string, error) {
	if a == nil || a.files == nil {
		return "", errors.New("storage: no artifact store configured")
	}
	if len(data) == 0 {
		return "", errors.New("storage: empty artifact")
	}
	key, err := a.files.Write(ctx, ArtifactKey(generationID, phase, mime), data)
	if err != nil {
		return "", err
	}
	return a.baseURL + "/" + key, nil
}

// ArtifactKey lays artifacts out as generations/<id>/<phase><ext>.
func ArtifactKey(generationID string, phase domain.Phase, mime string) string {
	name := string(phase)
	if name == "" {
		name = "output"
	}
	ext := extensionForMIME(mime)
	if ext == "" {
		ext = ".bin"
	}
	return fmt.Sprintf("generations/%s/%s%s", generationID, name, ext)
}

func extensionForMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	case "video/mp4":
		return ".mp4"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "text/plain":
		return ".txt"
	case "application/json":
		return ".json"
	default:
		return ""
	}
}
