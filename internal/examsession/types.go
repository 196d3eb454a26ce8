package examsession

import "time"

// Status enumerates the client-side states of an exam attempt.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusSubmitting Status = "SUBMITTING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transition can happen from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// MediaKind describes the attachment rendered next to a question prompt.
type MediaKind string

const (
	MediaNone  MediaKind = "none"
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Option is one selectable answer. Slice order is the display order (A, B, C, ...).
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is a single multiple-choice item of the attempt.
type Question struct {
	ID               string    `json:"id"`
	Prompt           string    `json:"prompt"`
	MediaURL         string    `json:"media_url,omitempty"`
	MediaKind        MediaKind `json:"media_kind"`
	Options          []Option  `json:"options"`
	SelectedOptionID *string   `json:"selected_option_id"`
}

func (q Question) hasOption(optionID string) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

func (q Question) clone() Question {
	c := q
	c.Options = append([]Option(nil), q.Options...)
	if q.SelectedOptionID != nil {
		sel := *q.SelectedOptionID
		c.SelectedOptionID = &sel
	}
	return c
}

// Window is the server-issued time box of an attempt.
type Window struct {
	StartedAt time.Time `json:"started_at"`
	EndAt     time.Time `json:"end_at"`
}

// Result is the outcome returned by the backend on submission.
type Result struct {
	Score        float64 `json:"score"`
	RetryAllowed bool    `json:"retry_allowed"`
}

// QuestionSet is the fixed question list plus any selections saved earlier.
type QuestionSet struct {
	Questions []Question        `json:"questions"`
	Answers   map[string]string `json:"answers"`
}

// Record is what survives a reload in the local session store.
type Record struct {
	ExamID     string    `json:"exam_id"`
	AccessCode string    `json:"access_code"`
	StartedAt  time.Time `json:"started_at"`
	EndAt      time.Time `json:"end_at"`
}

// Window returns the persisted time box.
func (r Record) Window() Window {
	return Window{StartedAt: r.StartedAt, EndAt: r.EndAt}
}
