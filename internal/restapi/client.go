// Package restapi is a thin client for the interview backend's REST
// endpoints: authentication, session management and analytics.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"interviewcoach/internal/domain"
	"interviewcoach/internal/ports"
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx backend response.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message())
}

// Message returns the backend's "detail" text when present.
func (e *APIError) Message() string {
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal([]byte(e.Body), &payload); err == nil {
		if detail, ok := payload.Detail.(string); ok && detail != "" {
			return detail
		}
	}
	return strings.TrimSpace(e.Body)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client makes REST calls to the interview backend.
type Client struct {
	baseURL string
	tokens  ports.TokenSource
	client  *http.Client
	log     logrus.FieldLogger
}

// NewClient creates a client targeting baseURL (e.g. "http://localhost:8000").
// tokens may be nil for unauthenticated use such as logging in.
func NewClient(baseURL string, tokens ports.TokenSource, log logrus.FieldLogger) *Client {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: defaultTimeout},
		log:     log.WithField("component", "restapi"),
	}
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	var out LoginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", strings.NewReader(form.Encode()),
		"application/x-www-form-urlencoded", false, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account and returns its first token.
func (c *Client) Register(ctx context.Context, reg Registration) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.postJSON(ctx, "/auth/register", reg, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me fetches /auth/me.
func (c *Client) Me(ctx context.Context) (*domain.UserProfile, error) {
	var out domain.UserProfile
	if err := c.get(ctx, "/auth/me", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout sends POST /auth/logout.
func (c *Client) Logout(ctx context.Context) error {
	return c.postJSON(ctx, "/auth/logout", nil, true, nil)
}

// CreateSession sends POST /sessions/create. resumePath is optional.
func (c *Client) CreateSession(ctx context.Context, session NewSession, resumePath string) (*Session, error) {
	payload, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("session", string(payload)); err != nil {
		return nil, err
	}
	if resumePath != "" {
		if err := attachFile(writer, "resume", resumePath); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	var out Session
	if err := c.do(ctx, http.MethodPost, "/sessions/create", &body, writer.FormDataContentType(), true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func attachFile(writer *multipart.Writer, field, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	part, err := writer.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

// ListSessions fetches /sessions/list, newest first.
func (c *Client) ListSessions(ctx context.Context, limit, skip int) ([]Session, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if skip > 0 {
		query.Set("skip", strconv.Itoa(skip))
	}
	var out []Session
	if err := c.get(ctx, withQuery("/sessions/list", query), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession fetches /sessions/{id}.
func (c *Client) GetSession(ctx context.Context, id string) (*SessionDetail, error) {
	var out SessionDetail
	if err := c.get(ctx, "/sessions/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession sends DELETE /sessions/{id}.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, "", true, nil)
}

// CompareSessions sends POST /sessions/compare.
func (c *Client) CompareSessions(ctx context.Context, firstID, secondID string) (*Comparison, error) {
	body := map[string]string{"session1_id": firstID, "session2_id": secondID}
	var out Comparison
	if err := c.postJSON(ctx, "/sessions/compare", body, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProgressStats fetches /sessions/statistics/progress.
func (c *Client) ProgressStats(ctx context.Context) (*Progress, error) {
	var out Progress
	if err := c.get(ctx, "/sessions/statistics/progress", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SessionAnalytics fetches /analytics/{id}.
func (c *Client) SessionAnalytics(ctx context.Context, id string) (Analytics, error) {
	var out Analytics
	if err := c.get(ctx, "/analytics/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UserSummary fetches /analytics/user/summary.
func (c *Client) UserSummary(ctx context.Context) (*Summary, error) {
	var out Summary
	if err := c.get(ctx, "/analytics/user/summary", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UserTrends fetches /analytics/user/trends over the last days.
func (c *Client) UserTrends(ctx context.Context, days int) (Analytics, error) {
	query := url.Values{}
	if days > 0 {
		query.Set("days", strconv.Itoa(days))
	}
	var out Analytics
	if err := c.get(ctx, withQuery("/analytics/user/trends", query), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WeakAreas fetches /analytics/user/weak-areas.
func (c *Client) WeakAreas(ctx context.Context, limit int) (*WeakAreas, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out WeakAreas
	if err := c.get(ctx, withQuery("/analytics/user/weak-areas", query), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func withQuery(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, "", true, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, auth bool, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, http.MethodPost, path, reader, contentType, auth, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, auth bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if auth {
		if err := c.setAuth(req); err != nil {
			return err
		}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("request finished")

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.Token(req.Context())
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}
