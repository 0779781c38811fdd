// Package export drives a slide document through the backend's export task.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatppt/chatppt/internal/slides"
	"github.com/chatppt/chatppt/internal/transport"
)

// DefaultPollInterval is the delay between two status checks
const DefaultPollInterval = 2 * time.Second

var (
	// ErrEmptyDocument is returned by Start for a document without slides
	ErrEmptyDocument = errors.New("cannot export an empty slide document")
	// ErrNotReady is returned by Download before the task succeeded with a file
	ErrNotReady = errors.New("export is not ready for download")
	// ErrNothingToRetry is returned by Retry when no failed export exists
	ErrNothingToRetry = errors.New("no failed export to retry")
	// ErrNoTask is returned by Wait when no export was started
	ErrNoTask = errors.New("no export task")
)

// Failure reports an export task that ended in failure
type Failure struct {
	TaskID  string
	Message string
}

func (e *Failure) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("export failed: %s", e.Message)
	}
	return fmt.Sprintf("export task %s failed: %s", e.TaskID, e.Message)
}

// Task is a snapshot of the current export attempt
type Task struct {
	ID       string                  `json:"task_id"`
	Status   transport.Status        `json:"status"`
	Error    string                  `json:"error,omitempty"`
	Result   *transport.ExportResult `json:"result,omitempty"`
	Title    string                  `json:"title"`
	FileName string                  `json:"file_name"`
}

// Downloadable reports whether Download may be called
func (t *Task) Downloadable() bool {
	return t.Status == transport.StatusSuccess && t.Result != nil && t.Result.PPTFilePath != ""
}

// Coordinator owns at most one export task at a time
type Coordinator struct {
	api      transport.ExportAPI
	interval time.Duration
	logger   *zap.Logger
	onChange func(Task)

	mu     sync.Mutex
	task   *Task
	doc    slides.Document
	cancel context.CancelFunc
	done   chan struct{}
	epoch  uint64
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithPollInterval overrides DefaultPollInterval
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithOnChange registers a callback for every task transition. It runs outside
// the coordinator's lock and must not block.
func WithOnChange(fn func(Task)) Option {
	return func(c *Coordinator) { c.onChange = fn }
}

// NewCoordinator creates a coordinator over the backend export API
func NewCoordinator(api transport.ExportAPI, opts ...Option) *Coordinator {
	c := &Coordinator{
		api:      api,
		interval: DefaultPollInterval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetOnChange replaces the change callback
func (c *Coordinator) SetOnChange(fn func(Task)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Start submits doc for export and begins polling. Any previous task is discarded.
// An empty document fails with ErrEmptyDocument before any request is made.
func (c *Coordinator) Start(ctx context.Context, doc slides.Document) (*Task, error) {
	if doc.IsEmpty() {
		return nil, ErrEmptyDocument
	}

	c.Reset()
	c.mu.Lock()
	c.doc = doc.Clone()
	c.mu.Unlock()

	return c.submit(ctx)
}

// Retry resubmits the document of a failed export
func (c *Coordinator) Retry(ctx context.Context) (*Task, error) {
	c.mu.Lock()
	retryable := c.task != nil && c.task.Status == transport.StatusFailure && !c.doc.IsEmpty()
	c.mu.Unlock()
	if !retryable {
		return nil, ErrNothingToRetry
	}

	c.stopPolling()
	return c.submit(ctx)
}

func (c *Coordinator) submit(ctx context.Context) (*Task, error) {
	c.mu.Lock()
	doc := c.doc
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	title := doc.Title()
	pages := slides.Paginate(doc)

	taskID, err := c.api.SubmitExport(ctx, title, pages)
	if err != nil {
		c.logger.Warn("Export submission failed", zap.Error(err))
		failed := Task{Status: transport.StatusFailure, Error: err.Error(), Title: title, FileName: slides.FileName(doc)}
		if c.commit(epoch, func(t **Task) { *t = &failed }) {
			c.notify(failed)
		}
		return nil, fmt.Errorf("failed to submit export: %w", err)
	}

	task := Task{
		ID:       taskID,
		Status:   transport.StatusPending,
		Title:    title,
		FileName: slides.FileName(doc),
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	if epoch != c.epoch {
		// reset while the submission was in flight
		c.mu.Unlock()
		cancel()
		close(done)
		return nil, context.Canceled
	}
	c.task = &task
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.logger.Info("Export task started", zap.String("task_id", taskID), zap.Int("slides", len(pages)))
	c.notify(task)

	go c.poll(pollCtx, epoch, taskID, done)

	snapshot := task
	return &snapshot, nil
}

// poll checks the task status sequentially until it is terminal or cancelled
func (c *Coordinator) poll(ctx context.Context, epoch uint64, taskID string, done chan struct{}) {
	defer close(done)

	logger := c.logger.With(zap.String("task_id", taskID))
	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		status, err := c.api.TaskStatus(ctx, taskID)
		if ctx.Err() != nil {
			return
		}

		var next Task
		ok := c.commit(epoch, func(t **Task) {
			updated := **t
			if err != nil {
				updated.Status = transport.StatusFailure
				updated.Error = err.Error()
			} else {
				updated.Status = status.Status
				updated.Error = status.Error
				if result, has := status.ExportResult(); has {
					updated.Result = result
				}
				if updated.Status == transport.StatusSuccess && updated.Result == nil {
					updated.Status = transport.StatusFailure
					updated.Error = "export finished without a file"
				}
			}
			*t = &updated
			next = updated
		})
		if !ok {
			return
		}

		c.notify(next)

		if next.Status.IsTerminal() {
			if next.Status == transport.StatusFailure {
				logger.Warn("Export task failed", zap.String("error", next.Error))
			} else {
				logger.Info("Export task succeeded", zap.String("file", next.Result.PPTFilePath))
			}
			return
		}

		timer.Reset(c.interval)
	}
}

// commit applies fn to the current task if epoch is still current
func (c *Coordinator) commit(epoch uint64, fn func(t **Task)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		return false
	}
	if c.task == nil {
		c.task = &Task{}
	}
	fn(&c.task)
	return true
}

func (c *Coordinator) notify(task Task) {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(task)
	}
}

// Snapshot returns a copy of the current task, or nil when there is none
func (c *Coordinator) Snapshot() *Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.task == nil {
		return nil
	}
	t := *c.task
	if t.Result != nil {
		r := *t.Result
		t.Result = &r
	}
	return &t
}

// Wait blocks until the current task stops polling, then returns its snapshot.
// A failed task is returned together with a *Failure.
func (c *Coordinator) Wait(ctx context.Context) (*Task, error) {
	c.mu.Lock()
	done := c.done
	hasTask := c.task != nil
	c.mu.Unlock()

	if !hasTask {
		return nil, ErrNoTask
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	task := c.Snapshot()
	if task == nil {
		return nil, ErrNoTask
	}
	if task.Status == transport.StatusFailure {
		return task, &Failure{TaskID: task.ID, Message: task.Error}
	}
	return task, nil
}

// Download writes the exported file to w
func (c *Coordinator) Download(ctx context.Context, w io.Writer) error {
	task := c.Snapshot()
	if task == nil || !task.Downloadable() {
		return ErrNotReady
	}
	if _, err := c.api.DownloadTask(ctx, task.ID, w); err != nil {
		return fmt.Errorf("failed to download export: %w", err)
	}
	return nil
}

// DownloadTo saves the exported file into dir under a name derived from the
// document title and returns its path. The file appears only once complete.
func (c *Coordinator) DownloadTo(ctx context.Context, dir string) (string, error) {
	task := c.Snapshot()
	if task == nil || !task.Downloadable() {
		return "", ErrNotReady
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	path := filepath.Join(dir, task.FileName)
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := c.api.DownloadTask(ctx, task.ID, tmp); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to download export: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close download: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move download into place: %w", err)
	}

	c.logger.Info("Export downloaded", zap.String("task_id", task.ID), zap.String("path", path))
	return path, nil
}

// Reset stops polling and forgets the task and document. Calling it again is a no-op.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	hadTask := c.task != nil
	c.epoch++
	cancel := c.cancel
	c.cancel = nil
	c.done = nil
	c.task = nil
	c.doc = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if hadTask {
		c.logger.Debug("Export state reset")
	}
}

// stopPolling cancels the poll loop of the current task but keeps task and document
func (c *Coordinator) stopPolling() {
	c.mu.Lock()
	c.epoch++
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
