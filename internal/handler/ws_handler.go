package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/ujian/internal/metrics"
	"github.com/stemsi/ujian/internal/middleware"
	"github.com/stemsi/ujian/internal/response"
	ws "github.com/stemsi/ujian/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients such as the CLI send no Origin.
				return true
			}
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams autosaves over a WebSocket.
type WSHandler struct {
	sessions SessionService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// ExamStream godoc
// WS /ws/v1/participant/exams/:exam_id/stream?token=
// Accepts autosave, submit and ping actions for one attempt.
func (h *WSHandler) ExamStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := examParam(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	participantID := claims.UserID
	wsLog := h.log.With().
		Int("participant_id", participantID).
		Str("exam_id", examID.String()).
		Logger()

	wsLog.Info().Msg("Participant connected")

	// The request context ends when the handler returns; requests made
	// while the connection is open use it.
	ctx := c.Request.Context()

	for {
		var msg ws.Request
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, wsLog, examID, participantID, &msg)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, conn, wsLog, examID, participantID, &msg)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.Response{Event: ws.EventPong, RequestID: msg.RequestID})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, msg.RequestID, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
	}
}

func (h *WSHandler) handleAutosave(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, examID uuid.UUID, participantID int, msg *ws.Request) {
	if msg.QuestionID == "" || msg.OptionID == "" {
		ws.WriteError(conn, msg.RequestID, string(response.ErrValidation), "question_id and option_id are required")
		return
	}

	// Validated as a UUID before it reaches any Redis key.
	questionID, err := uuid.Parse(msg.QuestionID)
	if err != nil {
		ws.WriteError(conn, msg.RequestID, string(response.ErrValidation), "invalid question_id format")
		return
	}

	if err := h.sessions.SaveAnswer(ctx, examID, participantID, questionID, msg.OptionID); err != nil {
		h.writeSessionError(conn, wsLog, msg.RequestID, err)
		return
	}

	metrics.AnswersSaved.WithLabelValues("ws").Inc()
	ws.WriteTyped(conn, ws.Response{Event: ws.EventSuccess, RequestID: msg.RequestID, Status: "saved"})
}

func (h *WSHandler) handleSubmit(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, examID uuid.UUID, participantID int, msg *ws.Request) {
	result, err := h.sessions.Submit(ctx, examID, participantID, msg.Answers, msg.Auto)
	if err != nil {
		h.writeSessionError(conn, wsLog, msg.RequestID, err)
		return
	}

	score := result.Score
	ws.WriteTyped(conn, ws.Response{
		Event:        ws.EventGraded,
		RequestID:    msg.RequestID,
		Status:       "completed",
		Score:        &score,
		RetryAllowed: result.RetryAllowed,
	})
}

func (h *WSHandler) writeSessionError(conn *websocket.Conn, wsLog zerolog.Logger, requestID string, err error) {
	status, code := sessionError(err)
	if status == http.StatusInternalServerError {
		wsLog.Error().Err(err).Msg("Stream action failed")
	}
	ws.WriteError(conn, requestID, string(code), response.GetMessage(code))
}
