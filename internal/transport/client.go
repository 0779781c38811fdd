package transport

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
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chatppt/chatppt/internal/slides"
)

const (
	exportPath = "/api/v1/generation/export"
	tasksPath  = "/api/v1/tasks/"
	ragPath    = "/api/v1/rag"

	maxErrorBody = 4096
)

// Client talks to the generation backend's request/response endpoints
type Client struct {
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration
	logger         *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client. It should not carry a Timeout since the
// same client serves long lived streams; per request deadlines come from
// WithRequestTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRequestTimeout bounds every non-streaming request
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a backend client for baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{},
		requestTimeout: 30 * time.Second,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

// do sends a request and decodes a JSON response into out (which may be nil)
func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.send(req, op, out)
}

func (c *Client) send(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
			return ctxErr
		}
		return NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewDecodeError(op, err)
	}
	return nil
}

// statusError builds an Error from a non-2xx response, keeping the backend's detail message
func statusError(op string, resp *http.Response) *Error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body errorBody
	detail := ""
	if json.Unmarshal(data, &body) == nil {
		var text string
		switch {
		case len(body.Detail) > 0 && json.Unmarshal(body.Detail, &text) == nil:
			detail = text
		case len(body.Detail) > 0:
			detail = string(body.Detail)
		case body.Error != "":
			detail = body.Error
		}
	}
	if detail == "" {
		detail = strings.TrimSpace(string(data))
	}
	if detail == "" {
		detail = resp.Status
	}
	return NewStatusError(op, resp.StatusCode, detail)
}

// SubmitExport submits a document for conversion and returns the task id
func (c *Client) SubmitExport(ctx context.Context, title string, doc slides.Document) (string, error) {
	req := exportRequest{Content: exportContent{Title: title, SlidesData: doc}}

	var status TaskStatus
	if err := c.do(ctx, "submit export", http.MethodPost, exportPath, req, &status); err != nil {
		return "", err
	}
	if status.TaskID == "" {
		return "", NewDecodeError("submit export", errors.New("response has no task_id"))
	}

	c.logger.Debug("Export task submitted", zap.String("task_id", status.TaskID), zap.Int("slides", len(doc)))
	return status.TaskID, nil
}

// TaskStatus fetches the status of a backend task
func (c *Client) TaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	var status TaskStatus
	if err := c.do(ctx, "poll task", http.MethodGet, tasksPath+url.PathEscape(taskID), nil, &status); err != nil {
		return nil, err
	}
	status.Status = NormalizeStatus(string(status.Status))
	if status.TaskID == "" {
		status.TaskID = taskID
	}
	return &status, nil
}

// DownloadTask streams a finished task's file into w. The request timeout does
// not apply; ctx bounds the transfer.
func (c *Client) DownloadTask(ctx context.Context, taskID string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(tasksPath+url.PathEscape(taskID)+"/file"), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, NewNetworkError("download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, statusError("download", resp)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, NewNetworkError("download", err)
	}
	return n, nil
}

// UploadFile uploads a reference document for a session
func (c *Client) UploadFile(ctx context.Context, sessionID, name string, r io.Reader) (*RagFile, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("session_id", sessionID); err != nil {
		return nil, fmt.Errorf("failed to write session_id field: %w", err)
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(ragPath+"/upload"), &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var file RagFile
	if err := c.send(req, "upload file", &file); err != nil {
		return nil, err
	}
	if file.SessionID == "" {
		file.SessionID = sessionID
	}
	return &file, nil
}

// ListFiles lists the reference documents of a session
func (c *Client) ListFiles(ctx context.Context, sessionID string) ([]RagFile, error) {
	files := []RagFile{}
	path := ragPath + "/files?session_id=" + url.QueryEscape(sessionID)
	if err := c.do(ctx, "list files", http.MethodGet, path, nil, &files); err != nil {
		return nil, err
	}
	for i := range files {
		if files[i].SessionID == "" {
			files[i].SessionID = sessionID
		}
	}
	return files, nil
}

// DeleteFile deletes a reference document
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	return c.do(ctx, "delete file", http.MethodDelete, ragPath+"/files/"+url.PathEscape(fileID), nil, nil)
}

// Health checks that the backend answers on /health
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "health check", http.MethodGet, "/health", nil, nil)
}
