package transport

import (
	"encoding/json"
	"strings"

	"github.com/chatppt/chatppt/internal/slides"
)

// Kind selects the generation endpoint
type Kind string

const (
	KindOutline Kind = "outline"
	KindContent Kind = "content"
)

// Message is one conversation turn as sent to the backend
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is the body of outline and content generation requests
type GenerateRequest struct {
	SessionID     string          `json:"session_id"`
	UserMessage   string          `json:"user_message"`
	History       []Message       `json:"history,omitempty"`
	CurrentSlides slides.Document `json:"current_slides,omitempty"`
	RagFileIDs    []string        `json:"rag_file_ids,omitempty"`
}

// Status is the lifecycle state of a backend task
type Status string

const (
	StatusPending  Status = "pending"
	StatusProgress Status = "progress"
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
)

// IsTerminal reports whether polling should stop
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// NormalizeStatus maps backend status spellings, including raw worker states, onto Status
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success":
		return StatusSuccess
	case "failure", "failed", "revoked":
		return StatusFailure
	case "progress", "started", "retry":
		return StatusProgress
	default:
		return StatusPending
	}
}

// TaskStatus is the response of the task submission and polling endpoints
type TaskStatus struct {
	TaskID string          `json:"task_id"`
	Status Status          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ExportResult is the result of a finished export task
type ExportResult struct {
	Status      string `json:"status"`
	PPTFilePath string `json:"ppt_file_path"`
	Message     string `json:"message"`
}

// ExportResult decodes the result as an export result. ok is false when there is no
// result or it does not reference a file.
func (t *TaskStatus) ExportResult() (*ExportResult, bool) {
	if len(t.Result) == 0 || string(t.Result) == "null" {
		return nil, false
	}
	var r ExportResult
	if err := json.Unmarshal(t.Result, &r); err != nil || r.PPTFilePath == "" {
		return nil, false
	}
	return &r, true
}

// exportContent is the document as the export endpoint expects it
type exportContent struct {
	Title      string          `json:"title"`
	SlidesData slides.Document `json:"slides_data"`
}

type exportRequest struct {
	Content exportContent `json:"content"`
}

// RagFile is a reference document uploaded for a session
type RagFile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Status     string `json:"status"`
	UploadTime string `json:"upload_time"`
	SessionID  string `json:"session_id,omitempty"`
}

type streamEvent struct {
	Text  *string `json:"text"`
	Error *string `json:"error"`
}

// errorBody covers the error shapes returned by the backend
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
	Error  string          `json:"error"`
}
