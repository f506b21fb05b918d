package order

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"media-viewer/internal/jsonfile"
	"media-viewer/internal/models"
)

// ManifestName is the file name of the order manifest inside the contents root.
const ManifestName = "order.json"

var (
	// ErrMalformedManifest reports an order.json that cannot be interpreted.
	ErrMalformedManifest = errors.New("malformed order manifest")
	// ErrInvalidDocument reports a manifest submitted for writing that fails validation.
	ErrInvalidDocument = errors.New("invalid order document")
)

// LoadManifest reads the manifest at path. An absent file yields (nil, nil).
func LoadManifest(path string) (*models.OrderManifest, error) {
	data, err := jsonfile.Read(path)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return ParseManifest(data)
}

// ParseManifest decodes a manifest document. A missing order key is an empty
// order and an order that is not an array makes the document malformed.
// soundSections that do not decode are dropped; SoundSectionsError reports them.
func ParseManifest(data []byte) (*models.OrderManifest, error) {
	fields, err := manifestFields(data)
	if err != nil {
		return nil, err
	}

	manifest := &models.OrderManifest{Order: []json.RawMessage{}}
	if raw, ok := fields["order"]; ok {
		if !isArray(raw) {
			return nil, fmt.Errorf("%w: order must be an array", ErrMalformedManifest)
		}
		if err := json.Unmarshal(raw, &manifest.Order); err != nil {
			return nil, fmt.Errorf("%w: order: %v", ErrMalformedManifest, err)
		}
	}

	if sections, err := decodeSoundSections(fields); err == nil {
		manifest.SoundSections = sections
	}
	return manifest, nil
}

// SoundSectionsError reports why the soundSections of a manifest document
// cannot be decoded, or nil when they are absent or valid.
func SoundSectionsError(data []byte) error {
	fields, err := manifestFields(data)
	if err != nil {
		return err
	}
	_, err = decodeSoundSections(fields)
	return err
}

func manifestFields(data []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: document is not a JSON object", ErrMalformedManifest)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	return fields, nil
}

func decodeSoundSections(fields map[string]json.RawMessage) ([]models.SoundSection, error) {
	raw, ok := fields["soundSections"]
	if !ok || isNull(raw) {
		return nil, nil
	}
	if !isArray(raw) {
		return nil, errors.New("soundSections must be an array")
	}
	var sections []models.SoundSection
	if err := json.Unmarshal(raw, &sections); err != nil {
		return nil, fmt.Errorf("soundSections: %w", err)
	}
	return sections, nil
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
