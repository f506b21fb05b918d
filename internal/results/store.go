// Package results persists viewer interactions (quiz answers and choice
// selections) as JSON documents in the contents root.
package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"media-viewer/internal/jsonfile"
)

var (
	// ErrInvalidRecord reports a record rejected before anything is written.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrManifestMissing reports that no order manifest exists to number quizzes against.
	ErrManifestMissing = errors.New("order manifest not found")
)

// Store is one result document: a JSON object holding a list of records under
// a fixed key. Other top-level keys are preserved across writes. Writes are
// serialised within the process only.
type Store struct {
	path   string
	key    string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewStore returns a Store for the document at path whose records live under key.
func NewStore(path, key string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, key: key, logger: logger.With(zap.String("document", key))}
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// Document returns the stored document. Missing or malformed files yield a
// document with an empty record list.
func (s *Store) Document() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, _, err := s.load()
	if err != nil {
		return nil, err
	}
	return jsonfile.Marshal(doc)
}

// Records returns the stored records.
func (s *Store) Records() ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, records, err := s.load()
	return records, err
}

// Append adds record, which must be a JSON object, to the end of the list.
func (s *Store) Append(record json.RawMessage) error {
	trimmed := bytes.TrimSpace(record)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return fmt.Errorf("%w: expected a JSON object", ErrInvalidRecord)
	}

	_, err := s.Upsert(trimmed, nil)
	return err
}

// Upsert removes every record for which replaces returns true, appends record
// and writes the document. It returns the records as stored.
func (s *Store) Upsert(record json.RawMessage, replaces func(json.RawMessage) bool) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, records, err := s.load()
	if err != nil {
		return nil, err
	}

	kept := make([]json.RawMessage, 0, len(records)+1)
	for _, existing := range records {
		if replaces != nil && replaces(existing) {
			continue
		}
		kept = append(kept, existing)
	}
	kept = append(kept, record)

	list, err := json.Marshal(kept)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", s.key, err)
	}
	doc[s.key] = list

	data, err := jsonfile.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", s.key, err)
	}
	if err := jsonfile.WriteAtomic(s.path, data); err != nil {
		return nil, err
	}
	return kept, nil
}

func (s *Store) load() (map[string]json.RawMessage, []json.RawMessage, error) {
	empty := func() map[string]json.RawMessage {
		return map[string]json.RawMessage{s.key: json.RawMessage("[]")}
	}

	data, err := jsonfile.Read(s.path)
	if err != nil {
		return nil, nil, err
	}
	if data == nil {
		return empty(), []json.RawMessage{}, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		s.logger.Warn("result document is malformed, starting empty", zap.String("path", s.path), zap.Error(err))
		return empty(), []json.RawMessage{}, nil
	}

	records := []json.RawMessage{}
	if raw, ok := doc[s.key]; ok {
		if err := json.Unmarshal(raw, &records); err != nil || records == nil {
			s.logger.Warn("result list is malformed, starting empty", zap.String("path", s.path), zap.Error(err))
			records = []json.RawMessage{}
		}
	}
	list, _ := json.Marshal(records)
	doc[s.key] = list
	return doc, records, nil
}
