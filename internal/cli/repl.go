package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chatppt/chatppt/internal/chat"
	"github.com/chatppt/chatppt/internal/export"
	"github.com/chatppt/chatppt/internal/sessions"
	"github.com/chatppt/chatppt/internal/transport"
)

// conversation is the part of chat.Machine the REPL drives
type conversation interface {
	State() chat.State
	Subscribe(fn func(chat.State)) func()
	Wait(ctx context.Context) error

	SendMessage(text string) error
	StopGeneration()
	ConfirmOutline() error
	UpdateSlide(index int, field, value string, subIndex *int) error
	Reset()

	StartExport(ctx context.Context) (*export.Task, error)
	RetryExport(ctx context.Context) (*export.Task, error)
	CancelExport() error
	DownloadExport(ctx context.Context) (string, error)

	CreateNewSession() chat.State
	LoadSession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]sessions.IndexEntry, error)

	UploadAttachment(ctx context.Context, name string, r io.Reader) (*transport.RagFile, error)
	ListAttachments(ctx context.Context) ([]transport.RagFile, error)
	SelectAttachments(fileIDs []string)
}

var _ conversation = (*chat.Machine)(nil)

const replHelp = `Type a message to talk to the assistant. Commands:
  /confirm                          accept the outline and move on to content
  /slides                           show the current slides
  /edit <n> <field>[.<i>] <value>   change a field of slide n (item i of a list field)
  /export                           export the slides and wait for the file
  /retry                            retry a failed export
  /cancel                           abandon the export and return to editing
  /download                         save the exported file
  /attach <path>                    upload a reference document
  /use <file-id>...                 use reference documents for the next outline
  /files                            list reference documents
  /reset                            clear the current session
  /new                              start a new session
  /load <session-id>                switch to a stored session
  /sessions                         list stored sessions
  /help                             show this help
  /quit                             leave`

// repl reads one line at a time and applies it to the conversation
type repl struct {
	conv      conversation
	out       io.Writer
	interrupt <-chan os.Signal
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	renderMessages(r.out, r.conv.State())
	fmt.Fprintln(r.out, "Type /help for commands.")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}

		quit, err := r.handle(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// handle applies one input line; quit is true after /quit
func (r *repl) handle(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, r.send(ctx, line)
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	case "/confirm":
		if err := r.conv.ConfirmOutline(); err != nil {
			return false, err
		}
		renderMessages(r.out, r.conv.State())
	case "/slides":
		renderSlides(r.out, r.conv.State().Slides)
	case "/edit":
		return false, r.edit(line)
	case "/export":
		if _, err := r.conv.StartExport(ctx); err != nil {
			return false, err
		}
		return false, r.awaitExport(ctx)
	case "/retry":
		if _, err := r.conv.RetryExport(ctx); err != nil {
			return false, err
		}
		return false, r.awaitExport(ctx)
	case "/cancel":
		if err := r.conv.CancelExport(); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "Export cancelled.")
	case "/download":
		path, err := r.conv.DownloadExport(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Saved %s\n", path)
	case "/attach":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /attach <path>")
		}
		return false, r.attach(ctx, args[0])
	case "/use":
		r.conv.SelectAttachments(args)
		fmt.Fprintf(r.out, "Using %d reference document(s).\n", len(r.conv.State().AttachmentsSelected))
	case "/files":
		files, err := r.conv.ListAttachments(ctx)
		if err != nil {
			return false, err
		}
		renderFiles(r.out, files)
	case "/reset":
		r.conv.Reset()
		renderMessages(r.out, r.conv.State())
	case "/new":
		renderMessages(r.out, r.conv.CreateNewSession())
	case "/load":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /load <session-id>")
		}
		if err := r.conv.LoadSession(ctx, args[0]); err != nil {
			return false, err
		}
		st := r.conv.State()
		renderMessages(r.out, st)
		renderSlides(r.out, st.Slides)
	case "/sessions":
		entries, err := r.conv.ListSessions(ctx)
		if err != nil {
			return false, err
		}
		renderSessions(r.out, entries)
	default:
		return false, fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return false, nil
}

// send submits a message and blocks until the reply is complete. An interrupt stops it.
func (r *repl) send(ctx context.Context, text string) error {
	before := len(r.conv.State().Messages)
	if err := r.conv.SendMessage(text); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- r.conv.Wait(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-r.interrupt:
		r.conv.StopGeneration()
		err = <-done
	}
	if err != nil {
		return err
	}

	st := r.conv.State()
	// the content phase replaces the conversation, so print everything in that case
	if len(st.Messages) < before {
		before = 0
	}
	renderMessagesFrom(r.out, st, before)
	if st.Phase == sessions.PhaseContent && len(st.Slides) > 0 {
		renderSlides(r.out, st.Slides)
	}
	if st.Error != "" {
		return errors.New(st.Error)
	}
	return nil
}

// edit parses "/edit <n> <field>[.<i>] <value...>" with 1-based n and i
func (r *repl) edit(line string) error {
	parts := strings.SplitN(strings.TrimSpace(strings.TrimPrefix(line, "/edit")), " ", 3)
	if len(parts) < 3 {
		return fmt.Errorf("usage: /edit <n> <field>[.<i>] <value>")
	}

	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("invalid slide number %q", parts[0])
	}

	field := parts[1]
	var subIndex *int
	if name, item, ok := strings.Cut(field, "."); ok {
		i, err := strconv.Atoi(item)
		if err != nil {
			return fmt.Errorf("invalid item number %q", item)
		}
		i--
		field, subIndex = name, &i
	}

	if err := r.conv.UpdateSlide(n-1, field, strings.TrimSpace(parts[2]), subIndex); err != nil {
		return err
	}
	renderSlides(r.out, r.conv.State().Slides)
	return nil
}

// awaitExport blocks until the export task reaches a terminal status
func (r *repl) awaitExport(ctx context.Context) error {
	changed := make(chan struct{}, 1)
	unsubscribe := r.conv.Subscribe(func(chat.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	fmt.Fprintln(r.out, "Exporting...")
	st := r.conv.State()
	for {
		if st.Export == nil || st.Phase != sessions.PhaseExporting {
			return fmt.Errorf("export was cancelled")
		}
		switch st.Export.Status {
		case transport.StatusSuccess:
			fmt.Fprintf(r.out, "Export ready: %s. Type /download to save it.\n", st.Export.FileName)
			return nil
		case transport.StatusFailure:
			return fmt.Errorf("export failed: %s (type /retry or /cancel)", st.Export.Error)
		}

		select {
		case <-changed:
			st = r.conv.State()
		case <-r.interrupt:
			return r.conv.CancelExport()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *repl) attach(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	file, err := r.conv.UploadAttachment(ctx, filepath.Base(path), f)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Uploaded %s as %s. Type /use %s to reference it.\n", file.Name, file.ID, file.ID)
	return nil
}
