package transport

import (
	"context"
	"io"

	"github.com/chatppt/chatppt/internal/slides"
)

// ChunkFunc receives incremental assistant text
type ChunkFunc func(text string)

// Generator produces assistant text for a conversation turn.
//
// Generate blocks until the response is complete, fails, or ctx is cancelled. onChunk
// is called from the calling goroutine only, and never after ctx is done; a
// cancelled call returns ctx.Err().
type Generator interface {
	Generate(ctx context.Context, kind Kind, req *GenerateRequest, onChunk ChunkFunc) error
}

// ExportAPI is the part of the backend used by the export coordinator
type ExportAPI interface {
	SubmitExport(ctx context.Context, title string, doc slides.Document) (string, error)
	TaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
	DownloadTask(ctx context.Context, taskID string, w io.Writer) (int64, error)
}

// RagAPI manages reference documents
type RagAPI interface {
	UploadFile(ctx context.Context, sessionID, name string, r io.Reader) (*RagFile, error)
	ListFiles(ctx context.Context, sessionID string) ([]RagFile, error)
	DeleteFile(ctx context.Context, fileID string) error
}

var (
	_ ExportAPI = (*Client)(nil)
	_ RagAPI    = (*Client)(nil)
	_ Generator = (*StreamGenerator)(nil)
	_ Generator = (*PollGenerator)(nil)
)
