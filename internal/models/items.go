package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// NodeKind identifies the structural node variants carried in the order manifest.
type NodeKind string

const (
	KindQuiz           NodeKind = "quiz"
	KindChoice         NodeKind = "choice"
	KindReturnToChoice NodeKind = "return_to_choice"
	KindCrossroad      NodeKind = "crossroad"
	KindChoiceSummary  NodeKind = "choice_summary"
)

// Recognized reports whether the kind is one the resolver passes through.
func (k NodeKind) Recognized() bool {
	switch k {
	case KindQuiz, KindChoice, KindReturnToChoice, KindCrossroad, KindChoiceSummary:
		return true
	}
	return false
}

// QuizNode is the typed view of a quiz node.
type QuizNode struct {
	Question   string   `json:"question"`
	Options    []string `json:"options"`
	Background string   `json:"background,omitempty"`
}

// ChoiceNode is the typed view of a branching choice node.
type ChoiceNode struct {
	Question   string         `json:"question,omitempty"`
	Background string         `json:"background,omitempty"`
	Choices    []ChoiceOption `json:"choices"`
}

// ChoiceOption is one selectable hotspot of a choice node.
type ChoiceOption struct {
	ID       string  `json:"id"`
	Image    string  `json:"image,omitempty"`
	Results  string  `json:"results,omitempty"`
	Position *Point  `json:"position,omitempty"`
	Size     *Extent `json:"size,omitempty"`
}

// Point is a position relative to the node background.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Extent is a size relative to the node background.
type Extent struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CrossroadNode is the typed view of a crossroad prompt.
type CrossroadNode struct {
	Question     string `json:"question"`
	PreviousText string `json:"previousText"`
	NextText     string `json:"nextText"`
}

var typedKeys = map[NodeKind][]string{
	KindQuiz:      {"question", "options", "background"},
	KindChoice:    {"question", "background", "choices"},
	KindCrossroad: {"question", "previousText", "nextText"},
}

// StructuralNode is a non-file entry of the playback sequence. The original JSON
// object is retained and re-emitted unchanged; Quiz, Choice and Crossroad are
// typed views populated when the payload matches the expected shape, and Extra
// holds every field the typed view does not cover.
type StructuralNode struct {
	Kind      NodeKind
	Quiz      *QuizNode
	Choice    *ChoiceNode
	Crossroad *CrossroadNode
	Extra     map[string]json.RawMessage

	raw json.RawMessage
}

// ErrNotObject is returned when a structural node payload is not a JSON object.
var ErrNotObject = errors.New("structural node must be a JSON object")

// ParseNode decodes a JSON object into a StructuralNode. Unknown kinds are
// returned as well; callers decide whether to keep them via Kind.Recognized.
func ParseNode(data []byte) (*StructuralNode, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("decode structural node: %w", err)
	}

	node := &StructuralNode{raw: append(json.RawMessage(nil), trimmed...)}
	if rawKind, ok := fields["type"]; ok {
		var kind string
		if err := json.Unmarshal(rawKind, &kind); err == nil {
			node.Kind = NodeKind(kind)
		}
	}

	covered := map[string]struct{}{"type": {}}
	typed := false
	switch node.Kind {
	case KindQuiz:
		var quiz QuizNode
		if json.Unmarshal(trimmed, &quiz) == nil {
			node.Quiz = &quiz
			typed = true
		}
	case KindChoice:
		var choice ChoiceNode
		if json.Unmarshal(trimmed, &choice) == nil {
			node.Choice = &choice
			typed = true
		}
	case KindCrossroad:
		var crossroad CrossroadNode
		if json.Unmarshal(trimmed, &crossroad) == nil {
			node.Crossroad = &crossroad
			typed = true
		}
	}
	if typed {
		for _, key := range typedKeys[node.Kind] {
			covered[key] = struct{}{}
		}
	}

	for key, value := range fields {
		if _, ok := covered[key]; ok {
			continue
		}
		if node.Extra == nil {
			node.Extra = make(map[string]json.RawMessage)
		}
		node.Extra[key] = value
	}

	return node, nil
}

// Raw returns the JSON object the node was decoded from.
func (n *StructuralNode) Raw() json.RawMessage {
	out, _ := n.MarshalJSON()
	return out
}

// MarshalJSON emits the retained payload, or rebuilds one for nodes constructed in code.
func (n *StructuralNode) MarshalJSON() ([]byte, error) {
	if len(n.raw) > 0 {
		return n.raw, nil
	}

	fields := make(map[string]any, len(n.Extra)+4)
	for key, value := range n.Extra {
		fields[key] = value
	}

	var view any
	switch {
	case n.Quiz != nil:
		view = n.Quiz
	case n.Choice != nil:
		view = n.Choice
	case n.Crossroad != nil:
		view = n.Crossroad
	}
	if view != nil {
		encoded, err := json.Marshal(view)
		if err != nil {
			return nil, err
		}
		var viewFields map[string]json.RawMessage
		if err := json.Unmarshal(encoded, &viewFields); err != nil {
			return nil, err
		}
		for key, value := range viewFields {
			fields[key] = value
		}
	}
	fields["type"] = n.Kind

	return json.Marshal(fields)
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *StructuralNode) UnmarshalJSON(data []byte) error {
	parsed, err := ParseNode(data)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

// MediaRefs lists the media paths a node points at (backgrounds, choice images
// and result images), in document order and without duplicates.
func (n *StructuralNode) MediaRefs() []string {
	var refs []string
	seen := make(map[string]struct{})
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		refs = append(refs, path)
	}

	switch {
	case n.Quiz != nil:
		add(n.Quiz.Background)
	case n.Choice != nil:
		add(n.Choice.Background)
		for _, option := range n.Choice.Choices {
			add(option.Image)
			add(option.Results)
		}
	}
	return refs
}

// PlaybackItem is one entry of a resolved sequence: either a media path or a
// structural node.
type PlaybackItem struct {
	Path string
	Node *StructuralNode
}

// MediaRef builds a file entry.
func MediaRef(path string) PlaybackItem {
	return PlaybackItem{Path: path}
}

// NodeItem builds a structural entry.
func NodeItem(node *StructuralNode) PlaybackItem {
	return PlaybackItem{Node: node}
}

// IsNode reports whether the item is a structural node.
func (p PlaybackItem) IsNode() bool {
	return p.Node != nil
}

// MarshalJSON encodes media references as strings and nodes as objects.
func (p PlaybackItem) MarshalJSON() ([]byte, error) {
	if p.Node != nil {
		return p.Node.MarshalJSON()
	}
	return json.Marshal(p.Path)
}

// UnmarshalJSON accepts either a JSON string or a JSON object.
func (p *PlaybackItem) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.New("empty playback item")
	}

	switch trimmed[0] {
	case '"':
		var path string
		if err := json.Unmarshal(trimmed, &path); err != nil {
			return err
		}
		*p = PlaybackItem{Path: path}
		return nil
	case '{':
		node, err := ParseNode(trimmed)
		if err != nil {
			return err
		}
		*p = PlaybackItem{Node: node}
		return nil
	}
	return fmt.Errorf("playback item must be a string or an object, got %s", trimmed)
}

// SoundSection maps a range of sequence indices to a looping background sound.
// End -1 means "until the last item".
type SoundSection struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Sound string `json:"sound"`
}

// OrderManifest is the persisted order.json document. Order entries are kept as
// raw JSON so that classification (and silent dropping of unknown entries)
// happens in one place.
type OrderManifest struct {
	Order         []json.RawMessage `json:"order"`
	SoundSections []SoundSection    `json:"soundSections,omitempty"`
}
