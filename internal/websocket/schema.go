package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// Request is every client message. Fields unused by an action are empty.
type Request struct {
	Action     Action            `json:"action"`
	RequestID  string            `json:"request_id,omitempty"`
	QuestionID string            `json:"question_id,omitempty"`
	OptionID   string            `json:"option_id,omitempty"`
	Answers    map[string]string `json:"answers,omitempty"`
	Auto       bool              `json:"auto,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSuccess Event = "success"
	EventGraded  Event = "graded"
	EventPong    Event = "pong"
)

// Response is every server message. RequestID echoes the request.
type Response struct {
	Event        Event    `json:"event"`
	RequestID    string   `json:"request_id,omitempty"`
	Status       string   `json:"status,omitempty"`
	Score        *float64 `json:"score,omitempty"`
	RetryAllowed bool     `json:"retry_allowed,omitempty"`
	Code         string   `json:"code,omitempty"`
	Error        string   `json:"error,omitempty"`
}
