package results

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"media-viewer/internal/metrics"
	"media-viewer/internal/models"
	"media-viewer/internal/order"
)

const (
	QuizResultsFile   = "quiz_results.json"
	ChoiceResultsFile = "choice_results.json"

	quizKey   = "results"
	choiceKey = "choices"
)

// Recorder stores quiz answers and choice selections for a contents root.
type Recorder struct {
	manifestPath string
	quizzes      *Store
	choices      *Store
	logger       *zap.Logger
	now          func() time.Time
}

// NewRecorder creates a Recorder whose documents live in root.
func NewRecorder(root string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("results")
	return &Recorder{
		manifestPath: filepath.Join(root, order.ManifestName),
		quizzes:      NewStore(filepath.Join(root, QuizResultsFile), quizKey, logger),
		choices:      NewStore(filepath.Join(root, ChoiceResultsFile), choiceKey, logger),
		logger:       logger,
		now:          time.Now,
	}
}

// QuizResults returns the quiz results document.
func (r *Recorder) QuizResults() (json.RawMessage, error) {
	return r.quizzes.Document()
}

// ChoiceResults returns the choice results document.
func (r *Recorder) ChoiceResults() (json.RawMessage, error) {
	return r.choices.Document()
}

// AppendQuizResult stores a client-built quiz result as is.
func (r *Recorder) AppendQuizResult(record json.RawMessage) error {
	err := r.quizzes.Append(record)
	metrics.RecordInteractionWrite("quiz_result", err == nil)
	return err
}

// AppendChoiceResult stores a client-built choice result as is.
func (r *Recorder) AppendChoiceResult(record json.RawMessage) error {
	err := r.choices.Append(record)
	metrics.RecordInteractionWrite("choice_result", err == nil)
	return err
}

// SaveQuizAnswer numbers the answered quiz against the manifest and replaces
// any earlier answer with the same number.
func (r *Recorder) SaveQuizAnswer(answer models.QuizAnswer) (models.QuizResult, error) {
	manifest, err := order.LoadManifest(r.manifestPath)
	if err != nil {
		return models.QuizResult{}, fmt.Errorf("load manifest: %w", err)
	}
	if manifest == nil {
		return models.QuizResult{}, ErrManifestMissing
	}

	item := bytes.TrimSpace(answer.QuizItem)
	if len(item) == 0 || bytes.Equal(item, []byte("null")) || answer.SelectedOptionIndex == nil {
		return models.QuizResult{}, fmt.Errorf("%w: quiz_item and selected_option_index are required", ErrInvalidRecord)
	}
	index := *answer.SelectedOptionIndex
	if index < 0 {
		return models.QuizResult{}, fmt.Errorf("%w: selected_option_index must not be negative", ErrInvalidRecord)
	}

	var quiz map[string]any
	if err := json.Unmarshal(item, &quiz); err != nil || quiz == nil {
		return models.QuizResult{}, fmt.Errorf("%w: quiz_item must be an object", ErrInvalidRecord)
	}

	result := models.QuizResult{
		QuizNumber:          order.QuizNumber(manifest.Order, item),
		SelectedOptionIndex: index,
		OptionNumber:        index + 1,
		Timestamp:           r.now().Format(time.RFC3339Nano),
	}
	result.Question, _ = quiz["question"].(string)
	if options, ok := quiz["options"].([]any); ok && index < len(options) {
		result.SelectedOption, _ = options[index].(string)
	}

	record, err := json.Marshal(result)
	if err != nil {
		return models.QuizResult{}, err
	}
	_, err = r.quizzes.Upsert(record, func(existing json.RawMessage) bool {
		var stored struct {
			QuizNumber *int `json:"quiz_number"`
		}
		return json.Unmarshal(existing, &stored) == nil && stored.QuizNumber != nil && *stored.QuizNumber == result.QuizNumber
	})
	metrics.RecordInteractionWrite("quiz_answer", err == nil)
	if err != nil {
		return models.QuizResult{}, err
	}

	r.logger.Info("quiz answer saved", zap.Int("quiz_number", result.QuizNumber), zap.Int("option_number", result.OptionNumber))
	return result, nil
}

// SaveChoice replaces the selection stored for the same choice id and returns
// the stored record together with a snapshot of every selection.
func (r *Recorder) SaveChoice(choice models.ChoiceResult) (models.ChoiceResult, models.ChoiceSnapshot, error) {
	if choice.ChoiceID == "" || choice.SelectedID == "" {
		return models.ChoiceResult{}, models.ChoiceSnapshot{}, fmt.Errorf("%w: choice_id and selected_id are required", ErrInvalidRecord)
	}

	result := models.ChoiceResult{
		ChoiceID:    choice.ChoiceID,
		SelectedID:  choice.SelectedID,
		ChoiceIndex: choice.ChoiceIndex,
		Timestamp:   r.now().Format(time.RFC3339Nano),
	}
	record, err := json.Marshal(result)
	if err != nil {
		return models.ChoiceResult{}, models.ChoiceSnapshot{}, err
	}

	stored, err := r.choices.Upsert(record, func(existing json.RawMessage) bool {
		var prior struct {
			ChoiceID string `json:"choice_id"`
		}
		return json.Unmarshal(existing, &prior) == nil && prior.ChoiceID == result.ChoiceID
	})
	metrics.RecordInteractionWrite("choice", err == nil)
	if err != nil {
		return models.ChoiceResult{}, models.ChoiceSnapshot{}, err
	}

	snapshot := models.ChoiceSnapshot{UserChoices: models.UserChoices{
		Timestamp: r.now().Format(time.RFC3339Nano),
		Choices:   make(map[string]string, len(stored)),
	}}
	for _, raw := range stored {
		var entry struct {
			ChoiceID   string `json:"choice_id"`
			SelectedID string `json:"selected_id"`
		}
		if json.Unmarshal(raw, &entry) != nil || entry.ChoiceID == "" {
			continue
		}
		snapshot.UserChoices.Choices[entry.ChoiceID] = entry.SelectedID
	}

	r.logger.Info("choice saved", zap.String("choice_id", result.ChoiceID), zap.String("selected_id", result.SelectedID))
	return result, snapshot, nil
}
