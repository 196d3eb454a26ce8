// Package examclient talks to the exam API on behalf of one participant.
package examclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/rs/zerolog"
	"github.com/stemsi/ujian/internal/examsession"
	"github.com/stemsi/ujian/internal/model"
)

// envelope mirrors the API response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client implements examsession.Backend over the REST API.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	mu    sync.RWMutex
	token string
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "exam_client").Logger(),
	}
}

// SetToken replaces the bearer token used for participant calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// BaseURL returns the API root the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login authenticates a participant and keeps the issued token.
func (c *Client) Login(ctx context.Context, nisn, password string) (*model.LoginResponse, error) {
	var res model.LoginResponse
	body := model.LoginRequest{NISN: nisn, Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/participant/login", body, false, &res); err != nil {
		return nil, err
	}
	c.SetToken(res.Token)
	return &res, nil
}

// Summary returns the exam shown before the access code is entered.
func (c *Client) Summary(ctx context.Context, examID string) (*model.ExamSummary, error) {
	var res model.ExamSummary
	if err := c.do(ctx, http.MethodGet, examPath(examID, ""), nil, true, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Start(ctx context.Context, examID, accessCode string) (examsession.Window, error) {
	var w examsession.Window
	body := model.StartExamRequest{AccessCode: accessCode}
	if err := c.do(ctx, http.MethodPost, examPath(examID, "/start"), body, true, &w); err != nil {
		return examsession.Window{}, err
	}
	return w, nil
}

func (c *Client) FetchQuestions(ctx context.Context, examID string) (*examsession.QuestionSet, error) {
	var set examsession.QuestionSet
	if err := c.do(ctx, http.MethodGet, examPath(examID, "/questions"), nil, true, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

func (c *Client) SaveAnswer(ctx context.Context, examID, questionID, optionID string) error {
	body := model.SaveAnswerRequest{QuestionID: questionID, OptionID: optionID}
	return c.do(ctx, http.MethodPut, examPath(examID, "/answers"), body, true, nil)
}

func (c *Client) Submit(ctx context.Context, examID string, answers map[string]string, auto bool) (examsession.Result, error) {
	var res examsession.Result
	body := model.SubmitExamRequest{Answers: answers, Auto: auto}
	if err := c.do(ctx, http.MethodPost, examPath(examID, "/submit"), body, true, &res); err != nil {
		return examsession.Result{}, err
	}
	return res, nil
}

func examPath(examID, suffix string) string {
	return "/api/v1/participant/exams/" + url.PathEscape(examID) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body any, authed bool, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	// Setting Accept-Encoding disables the transport's transparent gzip,
	// so the body is decoded below.
	req.Header.Set("Accept-Encoding", "br")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token := c.Token()
		if token == "" {
			return ErrNotLoggedIn
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	var r io.Reader = res.Body
	if res.Header.Get("Content-Encoding") == "br" {
		r = brotli.NewReader(res.Body)
	}

	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode response (status %d): %w", method, path, res.StatusCode, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", res.StatusCode).
		Dur("took", time.Since(start)).
		Msg("API call")

	if env.Error != nil || res.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: res.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}
