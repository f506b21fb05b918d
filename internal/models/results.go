package models

import "encoding/json"

// QuizResult is the record stored for an answered quiz.
type QuizResult struct {
	QuizNumber          int    `json:"quiz_number"`
	Question            string `json:"question"`
	SelectedOptionIndex int    `json:"selected_option_index"`
	OptionNumber        int    `json:"option_number"`
	SelectedOption      string `json:"selected_option"`
	Timestamp           string `json:"timestamp"`
}

// QuizAnswer is the payload accepted by the save-quiz-answer endpoint.
type QuizAnswer struct {
	QuizItem            json.RawMessage `json:"quiz_item"`
	SelectedOptionIndex *int            `json:"selected_option_index"`
}

// ChoiceResult is the record stored for a choice selection.
type ChoiceResult struct {
	ChoiceID    string `json:"choice_id"`
	SelectedID  string `json:"selected_id"`
	ChoiceIndex *int   `json:"choice_index"`
	Timestamp   string `json:"timestamp"`
}

// ChoiceSnapshot mirrors every stored selection so clients can cache them.
type ChoiceSnapshot struct {
	UserChoices UserChoices `json:"userChoices"`
}

// UserChoices maps choice ids to the selected option id.
type UserChoices struct {
	Timestamp string            `json:"timestamp"`
	Choices   map[string]string `json:"choices"`
}
