package model

import (
	"github.com/google/uuid"
)

// MediaKind tags the optional attachment of a question.
type MediaKind string

const (
	MediaNone  MediaKind = "none"
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Option is one selectable answer.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question represents a single multiple-choice exam question.
type Question struct {
	ID            uuid.UUID `json:"id"`
	ExamID        uuid.UUID `json:"exam_id"`
	Prompt        string    `json:"prompt"`
	MediaURL      string    `json:"media_url,omitempty"`
	MediaKind     MediaKind `json:"media_kind"`
	Options       []Option  `json:"options"`
	CorrectOption string    `json:"correct_option"`
	OrderNum      int       `json:"order_num"`
}

// HasOption reports whether id is one of the question's options.
func (q *Question) HasOption(id string) bool {
	for _, o := range q.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// QuestionForParticipant is a question without the correct answer.
type QuestionForParticipant struct {
	ID        uuid.UUID `json:"id"`
	Prompt    string    `json:"prompt"`
	MediaURL  string    `json:"media_url,omitempty"`
	MediaKind MediaKind `json:"media_kind"`
	Options   []Option  `json:"options"`
	OrderNum  int       `json:"order_num"`
}

// SeedQuestion is a question inside a SeedExam document.
type SeedQuestion struct {
	Prompt        string    `json:"prompt" binding:"required,min=1,max=2000"`
	MediaURL      string    `json:"media_url" binding:"omitempty,max=500"`
	MediaKind     MediaKind `json:"media_kind" binding:"omitempty,oneof=none image video"`
	Options       []Option  `json:"options" binding:"required,min=2,max=8"`
	CorrectOption string    `json:"correct_option" binding:"required,max=36"`
}
