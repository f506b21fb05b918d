// Package order merges the order manifest with the files on disk into the
// playback sequence and manages reads and writes of the manifest itself.
package order

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"

	"media-viewer/internal/models"
)

// Resolve builds the playback sequence. Without a manifest every available
// file is returned in ascending order. With one, the manifest is exhaustive:
// its entries are walked in document order, file names are kept only when
// present in available, recognised structural nodes are kept verbatim and
// everything else is dropped.
func Resolve(manifest *models.OrderManifest, available []string) []models.PlaybackItem {
	if manifest == nil {
		sorted := append([]string(nil), available...)
		sort.Strings(sorted)
		items := make([]models.PlaybackItem, 0, len(sorted))
		for _, path := range sorted {
			items = append(items, models.MediaRef(path))
		}
		return items
	}

	present := make(map[string]struct{}, len(available))
	for _, path := range available {
		present[path] = struct{}{}
	}

	items := make([]models.PlaybackItem, 0, len(manifest.Order))
	for _, raw := range manifest.Order {
		if item, ok := classify(raw, present); ok {
			items = append(items, item)
		}
	}
	return items
}

func classify(raw json.RawMessage, present map[string]struct{}) (models.PlaybackItem, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return models.PlaybackItem{}, false
	}

	switch trimmed[0] {
	case '"':
		var path string
		if err := json.Unmarshal(trimmed, &path); err != nil {
			return models.PlaybackItem{}, false
		}
		if _, ok := present[path]; !ok {
			return models.PlaybackItem{}, false
		}
		return models.MediaRef(path), true
	case '{':
		node, err := models.ParseNode(trimmed)
		if err != nil || !node.Kind.Recognized() {
			return models.PlaybackItem{}, false
		}
		return models.NodeItem(node), true
	}
	return models.PlaybackItem{}, false
}

// QuizNumber returns the 1-based position, among the quiz nodes of order, of
// the first quiz node equal to item. When none matches the result is one past
// the number of quiz nodes.
func QuizNumber(order []json.RawMessage, item json.RawMessage) int {
	var target any
	if err := json.Unmarshal(item, &target); err != nil {
		target = nil
	}

	count := 0
	for _, raw := range order {
		var entry map[string]any
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if kind, _ := entry["type"].(string); kind != string(models.KindQuiz) {
			continue
		}
		count++
		if target != nil && reflect.DeepEqual(any(entry), target) {
			return count
		}
	}
	return count + 1
}
