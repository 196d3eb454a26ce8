package examclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	ws "github.com/stemsi/ujian/internal/websocket"
)

const defaultWSTimeout = 10 * time.Second

// WSSaver sends autosaves over the exam stream. One connection is kept per
// exam and redialed after any failure. Calls are serialized.
type WSSaver struct {
	client  *Client
	dialer  *websocket.Dialer
	timeout time.Duration
	log     zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	examID string
}

// NewWSSaver creates a saver that authenticates with client's token.
func NewWSSaver(client *Client, timeout time.Duration, log zerolog.Logger) *WSSaver {
	if timeout <= 0 {
		timeout = defaultWSTimeout
	}
	return &WSSaver{
		client:  client,
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout, Proxy: http.ProxyFromEnvironment},
		timeout: timeout,
		log:     log.With().Str("component", "ws_saver").Logger(),
	}
}

func (s *WSSaver) SaveAnswer(ctx context.Context, examID, questionID, optionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.connLocked(ctx, examID)
	if err != nil {
		return err
	}

	req := ws.Request{
		Action:     ws.ActionAutosave,
		RequestID:  uuid.NewString(),
		QuestionID: questionID,
		OptionID:   optionID,
	}
	res, err := s.roundTripLocked(ctx, conn, req)
	if err != nil {
		s.resetLocked()
		return err
	}
	if res.Event == ws.EventError {
		return &APIError{Code: res.Code, Message: res.Error}
	}
	return nil
}

// Close drops the open connection, if any.
func (s *WSSaver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.resetLocked()
	return nil
}

func (s *WSSaver) connLocked(ctx context.Context, examID string) (*websocket.Conn, error) {
	if s.conn != nil && s.examID == examID {
		return s.conn, nil
	}
	s.resetLocked()

	token := s.client.Token()
	if token == "" {
		return nil, ErrNotLoggedIn
	}
	u, err := streamURL(s.client.BaseURL(), examID, token)
	if err != nil {
		return nil, err
	}

	conn, res, err := s.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if res != nil && res.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial exam stream: %w", ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial exam stream: %w", err)
	}
	s.log.Debug().Str("exam_id", examID).Msg("Stream connected")
	s.conn = conn
	s.examID = examID
	return conn, nil
}

func (s *WSSaver) roundTripLocked(ctx context.Context, conn *websocket.Conn, req ws.Request) (ws.Response, error) {
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	// Cancellation expires the deadlines so a blocked read returns at once.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
		conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(req); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ws.Response{}, ctxErr
		}
		return ws.Response{}, fmt.Errorf("write autosave: %w", err)
	}

	conn.SetReadDeadline(deadline)
	for {
		var res ws.Response
		if err := conn.ReadJSON(&res); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ws.Response{}, ctxErr
			}
			return ws.Response{}, fmt.Errorf("read autosave reply: %w", err)
		}
		// Replies to requests that timed out earlier are skipped.
		if res.RequestID == req.RequestID {
			return res, nil
		}
	}
}

func (s *WSSaver) resetLocked() {
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = nil
	s.examID = ""
}

func streamURL(baseURL, examID, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.New("api url must be http or https")
	}
	rawPrefix := strings.TrimRight(u.EscapedPath(), "/") + "/ws/v1/participant/exams/"
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/v1/participant/exams/" + examID + "/stream"
	u.RawPath = rawPrefix + url.PathEscape(examID) + "/stream"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}
