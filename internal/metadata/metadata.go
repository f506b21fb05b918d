package metadata

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/chai2010/webp"
	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"
	_ "golang.org/x/image/bmp"

	"media-viewer/internal/models"
)

// ErrUnsupported is returned for files whose extension is not a supported media type.
var ErrUnsupported = errors.New("unsupported media type")

// Describe builds the metadata snapshot for the media file at path. Missing
// optional fields (dimensions, tags, duration) are left nil when the file
// cannot be decoded.
func Describe(path string, root string, contentType string) (models.MediaInfo, error) {
	kind, ok := models.KindOf(path)
	if !ok {
		return models.MediaInfo{}, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return models.MediaInfo{}, err
	}

	relative, err := filepath.Rel(root, path)
	if err != nil {
		relative = filepath.Base(path)
	}
	relative = filepath.ToSlash(relative)

	result := models.MediaInfo{
		Path:        relative,
		Filename:    filepath.Base(path),
		Kind:        kind,
		ContentType: contentType,
		SizeBytes:   info.Size(),
		ModifiedAt:  info.ModTime().UTC().Round(time.Second),
	}

	switch kind {
	case models.MediaImage:
		if width, height, err := imageDimensions(path); err == nil {
			result.Width = &width
			result.Height = &height
		}
	case models.MediaAudio:
		result.Title, result.Artist, result.Album = readTags(path)
		if strings.EqualFold(filepath.Ext(path), ".mp3") {
			dur, err := computeMP3Duration(path)
			if err == nil && dur > 0 {
				duration := dur
				result.DurationSeconds = &duration

				bitrate := int(math.Round((float64(info.Size()) * 8) / duration / 1000))
				if bitrate > 0 {
					result.BitrateKbps = &bitrate
				}
			}
		}
	}

	return result, nil
}

func imageDimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func readTags(path string) (*string, *string, *string) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return nil, nil, nil
	}

	return optionalString(meta.Title()), optionalString(meta.Artist()), optionalString(meta.Album())
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func computeMP3Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder := mp3.NewDecoder(f)
	var frame mp3.Frame
	var skipped int
	var total float64

	for {
		err := decoder.Decode(&frame, &skipped)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		total += frame.Duration().Seconds()
	}

	return total, nil
}
