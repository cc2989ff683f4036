// Package apiclient talks to the proctoring API on behalf of the kiosk agent.
// A Client satisfies the loader, counter, answer store, submitter and IP lookup
// contracts of the session controller.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	baseURL     string
	ipLookupURL string
	token       string
	http        *http.Client
}

func New(baseURL, ipLookupURL, token string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		ipLookupURL: ipLookupURL,
		token:       token,
		http: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// Start creates or returns the caller's attempt.
func (c *Client) Start(ctx context.Context, assessmentID uuid.UUID) (*model.Attempt, error) {
	var attempt model.Attempt
	if err := c.doJSON(ctx, http.MethodPost, "/assessment/"+assessmentID.String()+"/start", nil, &attempt); err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (c *Client) LoadConfig(ctx context.Context, assessmentID uuid.UUID) (model.SessionConfig, error) {
	var cfg model.SessionConfig
	err := c.doJSON(ctx, http.MethodGet, "/assessment/"+assessmentID.String(), nil, &cfg)
	return cfg, err
}

func (c *Client) LoadQuestions(ctx context.Context, assessmentID uuid.UUID) ([]model.QuestionForStudent, error) {
	var questions []model.QuestionForStudent
	if err := c.doJSON(ctx, http.MethodGet, "/assessment/"+assessmentID.String()+"/questions", nil, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

func (c *Client) IncrementTabSwitch(ctx context.Context, attemptID, eventID uuid.UUID) (int, error) {
	return c.increment(ctx, http.MethodPost, attemptPath(attemptID, "tab-switch"), eventID)
}

func (c *Client) IncrementFullscreenExit(ctx context.Context, attemptID, eventID uuid.UUID) (int, error) {
	return c.increment(ctx, http.MethodPatch, attemptPath(attemptID, "fullscreen-exit"), eventID)
}

func (c *Client) increment(ctx context.Context, method, path string, eventID uuid.UUID) (int, error) {
	var resp model.CounterResponse
	if err := c.doJSON(ctx, method, path, model.ViolationRequest{EventID: eventID.String()}, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *Client) SaveCode(ctx context.Context, attemptID uuid.UUID, req model.SaveAnswerRequest) error {
	return c.doJSON(ctx, http.MethodPost, attemptPath(attemptID, "save-code"), req, nil)
}

func (c *Client) SaveQuizAnswer(ctx context.Context, attemptID uuid.UUID, req model.SaveAnswerRequest) error {
	return c.doJSON(ctx, http.MethodPost, attemptPath(attemptID, "save-quiz-answer"), req, nil)
}

func (c *Client) SaveFrontendCode(ctx context.Context, attemptID uuid.UUID, req model.SaveAnswerRequest) error {
	return c.doJSON(ctx, http.MethodPost, attemptPath(attemptID, "save-frontend-code"), req, nil)
}

func (c *Client) LoadSaved(ctx context.Context, attemptID uuid.UUID) ([]model.SavedAnswer, error) {
	var answers []model.SavedAnswer
	if err := c.doJSON(ctx, http.MethodGet, attemptPath(attemptID, "answers"), nil, &answers); err != nil {
		return nil, err
	}
	return answers, nil
}

func (c *Client) Submit(ctx context.Context, assessmentID uuid.UUID, req model.SubmitRequest) (model.SubmitResult, error) {
	var res model.SubmitResult
	err := c.doJSON(ctx, http.MethodPost, "/assessment/"+assessmentID.String()+"/submit", req, &res)
	return res, err
}

// PublicIP asks the external lookup service for this machine's public address.
func (c *Client) PublicIP(ctx context.Context) (string, error) {
	if c.ipLookupURL == "" {
		return "", errors.New("ip lookup url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ipLookupURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip lookup: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("ip lookup: %w", err)
	}
	if body.IP == "" {
		return "", errors.New("ip lookup: empty address")
	}
	return body.IP, nil
}

func attemptPath(attemptID uuid.UUID, action string) string {
	return "/assessment-attempt/" + attemptID.String() + "/" + action
}

// envelope mirrors the server's response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields,omitempty"`
	} `json:"error,omitempty"`
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if decodeErr == nil && env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Fields = env.Error.Fields
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, decodeErr)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Fields     map[string]string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("api error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request later can succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}
