package models

// Chunk is one contiguous slice of extracted document text, identified by its
// position in the subject's chunk store.
type Chunk struct {
	Position int    `json:"position"`
	Content  string `json:"content"`
	Source   string `json:"source,omitempty"`
	Batch    string `json:"batch,omitempty"`
}

// Answer is the best matching chunk for a question.
type Answer struct {
	Content  string  `json:"content"`
	Score    float32 `json:"score"`
	Position int     `json:"position"`
	Source   string  `json:"source,omitempty"`
}

type QuizItem struct {
	Question string    `json:"question"`
	Options  [4]string `json:"options"`
	Answer   string    `json:"answer"`
}

type PromptResponse struct {
	Query   string
	Source  string
	Content string
}
