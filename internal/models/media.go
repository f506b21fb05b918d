package models

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MediaKind classifies a supported file by extension.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// MediaInfo represents the metadata exposed for a single media file.
type MediaInfo struct {
	Path            string    `json:"path"`
	Filename        string    `json:"filename"`
	Kind            MediaKind `json:"kind"`
	ContentType     string    `json:"content_type"`
	SizeBytes       int64     `json:"size_bytes"`
	ModifiedAt      time.Time `json:"modified_at"`
	Width           *int      `json:"width,omitempty"`
	Height          *int      `json:"height,omitempty"`
	Title           *string   `json:"title,omitempty"`
	Artist          *string   `json:"artist,omitempty"`
	Album           *string   `json:"album,omitempty"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
	BitrateKbps     *int      `json:"bitrate_kbps,omitempty"`
}

var extensionKinds = map[string]MediaKind{
	".png":  MediaImage,
	".jpg":  MediaImage,
	".jpeg": MediaImage,
	".gif":  MediaImage,
	".bmp":  MediaImage,
	".webp": MediaImage,
	".mp4":  MediaVideo,
	".avi":  MediaVideo,
	".mov":  MediaVideo,
	".wmv":  MediaVideo,
	".webm": MediaVideo,
	".mp3":  MediaAudio,
	".wav":  MediaAudio,
	".ogg":  MediaAudio,
	".m4a":  MediaAudio,
}

// KindOf classifies a path by its (case-insensitive) extension.
func KindOf(path string) (MediaKind, bool) {
	kind, ok := extensionKinds[strings.ToLower(filepath.Ext(path))]
	return kind, ok
}

// SupportedExtensions returns every supported extension (lowercase, with dot), sorted.
func SupportedExtensions() []string {
	result := make([]string, 0, len(extensionKinds))
	for ext := range extensionKinds {
		result = append(result, ext)
	}
	sort.Strings(result)
	return result
}
