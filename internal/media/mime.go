package media

import (
	"mime"
	"path/filepath"
	"strings"
)

var knownContentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".wmv":  "video/x-ms-wmv",
	".webm": "video/webm",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
}

// ContentType returns the media type for a file name, preferring the fixed
// table of supported formats over the system MIME database.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != "" {
		if value, ok := knownContentTypes[ext]; ok {
			return value
		}
		if value := mime.TypeByExtension(ext); value != "" {
			return value
		}
	}
	return "application/octet-stream"
}
