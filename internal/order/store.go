package order

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"media-viewer/internal/jsonfile"
	"media-viewer/internal/models"
)

var emptyDocument = json.RawMessage(`{"order":[]}`)

// Store reads and replaces the order manifest of a contents root.
type Store struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewStore returns a Store for root/order.json.
func NewStore(root string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:   filepath.Join(root, ManifestName),
		logger: logger.Named("order"),
	}
}

// Path returns the manifest location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the parsed manifest, or nil when it is absent or malformed.
// Malformed manifests are logged and treated as absent.
func (s *Store) Load() (*models.OrderManifest, error) {
	manifest, err := LoadManifest(s.path)
	if errors.Is(err, ErrMalformedManifest) {
		s.logger.Warn("ignoring malformed manifest", zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}
	if manifest != nil && manifest.SoundSections == nil {
		if data, readErr := jsonfile.Read(s.path); readErr == nil {
			if soundErr := SoundSectionsError(data); soundErr != nil {
				s.logger.Warn("ignoring unreadable soundSections", zap.String("path", s.path), zap.Error(soundErr))
			}
		}
	}
	return manifest, err
}

// Read returns the stored document as written, or {"order":[]} when it is
// absent or malformed.
func (s *Store) Read() (json.RawMessage, error) {
	data, err := jsonfile.Read(s.path)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return emptyDocument, nil
	}
	if _, err := ParseManifest(data); err != nil {
		s.logger.Warn("serving empty order for malformed manifest", zap.Error(err))
		return emptyDocument, nil
	}
	return json.RawMessage(bytes.TrimSpace(data)), nil
}

// Write validates doc and atomically replaces the manifest with an indented
// copy of it. The document must be an object whose order is an array.
func (s *Store) Write(doc []byte) (*models.OrderManifest, error) {
	trimmed := bytes.TrimSpace(doc)

	var fields map[string]json.RawMessage
	if len(trimmed) == 0 || trimmed[0] != '{' || json.Unmarshal(trimmed, &fields) != nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrInvalidDocument)
	}
	if _, ok := fields["order"]; !ok {
		return nil, fmt.Errorf("%w: order is required", ErrInvalidDocument)
	}
	manifest, err := ParseManifest(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := SoundSectionsError(trimmed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, trimmed, "", "  "); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	out.WriteByte('\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := jsonfile.WriteAtomic(s.path, out.Bytes()); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	s.logger.Info("manifest updated", zap.Int("entries", len(manifest.Order)))
	return manifest, nil
}
