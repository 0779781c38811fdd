package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatppt/chatppt/internal/slides"
)

func writeFrames(w http.ResponseWriter, frames ...string) {
	for _, f := range frames {
		fmt.Fprintf(w, "data: %s\n\n", f)
	}
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
}

func TestStreamGenerator(t *testing.T) {
	var got GenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/content", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		writeFrames(w, `{"text":"Hel"}`, `not json`, `{"text":"lo"}`, "[DONE]", `{"text":"ignored"}`)
	}))
	defer server.Close()

	gen := NewStreamGenerator(NewClient(server.URL))
	req := &GenerateRequest{
		SessionID:     "s1",
		UserMessage:   "make it shorter",
		CurrentSlides: slides.Document{slides.NewTitleSlide("T", "")},
	}

	var chunks []string
	err := gen.Generate(context.Background(), KindContent, req, func(text string) { chunks = append(chunks, text) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "make it shorter", got.UserMessage)
	assert.Len(t, got.CurrentSlides, 1)
}

func TestStreamGeneratorMultilineAndUnterminatedFrame(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"text\":\ndata: \"a\"}\n\n")
		fmt.Fprint(w, "data: {\"text\":\"b\"}")
	}))
	defer server.Close()

	var chunks []string
	err := NewStreamGenerator(NewClient(server.URL)).Generate(context.Background(), KindOutline, &GenerateRequest{}, func(text string) {
		chunks = append(chunks, text)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, chunks)
}

func TestStreamGeneratorErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w, `{"text":"partial"}`, `{"error":"model overloaded"}`)
	}))
	defer server.Close()

	var chunks []string
	err := NewStreamGenerator(NewClient(server.URL)).Generate(context.Background(), KindOutline, &GenerateRequest{}, func(text string) {
		chunks = append(chunks, text)
	})

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ErrorTypeStream, terr.Type)
	assert.Equal(t, "model overloaded", terr.Message)
	assert.Equal(t, []string{"partial"}, chunks)
}

func TestStreamGeneratorHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"detail":"broker down"}`)
	}))
	defer server.Close()

	err := NewStreamGenerator(NewClient(server.URL)).Generate(context.Background(), KindOutline, &GenerateRequest{}, func(string) {})

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ErrorTypeStatus, terr.Type)
	assert.Equal(t, http.StatusServiceUnavailable, terr.StatusCode)
	assert.Equal(t, "broker down", terr.Message)
}

func TestStreamGeneratorCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w, `{"text":"first"}`)
		select {
		case <-r.Context().Done():
		case <-release:
		}
		writeFrames(w, `{"text":"late"}`, "[DONE]")
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var chunks []string

	err := NewStreamGenerator(NewClient(server.URL)).Generate(ctx, KindOutline, &GenerateRequest{}, func(text string) {
		mu.Lock()
		chunks = append(chunks, text)
		mu.Unlock()
		cancel()
	})

	assert.ErrorIs(t, err, context.Canceled)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first"}, chunks)
}

func TestPollGenerator(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/generation/outline_conversational":
			var req GenerateRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, []string{"f1"}, req.RagFileIDs)
			assert.Len(t, req.History, 1)
			fmt.Fprint(w, `{"task_id":"t1","status":"pending"}`)
		case r.URL.Path == "/api/v1/tasks/t1":
			if polls.Add(1) < 3 {
				fmt.Fprint(w, `{"task_id":"t1","status":"PENDING"}`)
				return
			}
			fmt.Fprint(w, `{"task_id":"t1","status":"success","result":{"outline":{"main_topic":"X","outline":[]}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	gen := NewPollGenerator(NewClient(server.URL), 5*time.Millisecond)
	req := &GenerateRequest{
		SessionID:   "s1",
		UserMessage: "Go",
		History:     []Message{{Role: "user", Content: "Go"}},
		RagFileIDs:  []string{"f1"},
	}

	var chunks []string
	require.NoError(t, gen.Generate(context.Background(), KindOutline, req, func(text string) { chunks = append(chunks, text) }))

	require.Len(t, chunks, 1)
	assert.JSONEq(t, `{"main_topic":"X","outline":[]}`, chunks[0])
	assert.Equal(t, int32(3), polls.Load())
}

func TestPollGeneratorTaskFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"task_id":"t2","status":"pending"}`)
			return
		}
		fmt.Fprint(w, `{"task_id":"t2","status":"failure","error":"llm timeout"}`)
	}))
	defer server.Close()

	err := NewPollGenerator(NewClient(server.URL), time.Millisecond).Generate(context.Background(), KindContent, &GenerateRequest{}, func(string) {
		t.Fatal("no chunk expected")
	})

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ErrorTypeTaskFailed, terr.Type)
	assert.Contains(t, terr.Message, "llm timeout")
}

func TestPollGeneratorCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"task_id":"t3","status":"pending"}`)
			return
		}
		fmt.Fprint(w, `{"task_id":"t3","status":"progress"}`)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := NewPollGenerator(NewClient(server.URL), 5*time.Millisecond).Generate(ctx, KindContent, &GenerateRequest{}, func(string) {
		t.Fatal("no chunk expected")
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResultText(t *testing.T) {
	text, err := resultText(json.RawMessage(`{"slides_data":[{"slide_type":"title","title":"A"}]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"slide_type":"title","title":"A"}]`, text)

	text, err = resultText(json.RawMessage(`{"main_topic":"X","outline":[]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"main_topic":"X","outline":[]}`, text)

	_, err = resultText(json.RawMessage(`null`))
	assert.Error(t, err)
}

func TestClientExportLifecycle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/generation/export":
			var body map[string]map[string]json.RawMessage
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.JSONEq(t, `"Deck"`, string(body["content"]["title"]))
			assert.JSONEq(t, `[{"slide_type":"title","title":"Deck","subtitle":""}]`, string(body["content"]["slides_data"]))
			fmt.Fprint(w, `{"task_id":"exp-1","status":"pending"}`)
		case r.URL.Path == "/api/v1/tasks/exp-1":
			fmt.Fprint(w, `{"task_id":"exp-1","status":"SUCCESS","result":{"status":"ok","ppt_file_path":"/tmp/deck.pptx","message":"done"}}`)
		case r.URL.Path == "/api/v1/tasks/exp-1/file":
			w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.presentationml.presentation")
			fmt.Fprint(w, "PPTX-BYTES")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL + "/")
	ctx := context.Background()

	taskID, err := client.SubmitExport(ctx, "Deck", slides.Document{slides.NewTitleSlide("Deck", "")})
	require.NoError(t, err)
	assert.Equal(t, "exp-1", taskID)

	status, err := client.TaskStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status.Status)
	result, ok := status.ExportResult()
	require.True(t, ok)
	assert.Equal(t, "/tmp/deck.pptx", result.PPTFilePath)

	var buf bytes.Buffer
	n, err := client.DownloadTask(ctx, taskID, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len("PPTX-BYTES")), n)
	assert.Equal(t, "PPTX-BYTES", buf.String())

	_, err = client.DownloadTask(ctx, "missing", io.Discard)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusNotFound, terr.StatusCode)
}

func TestClientRagFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/rag/upload":
			assert.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "s1", r.FormValue("session_id"))
			file, header, err := r.FormFile("file")
			if !assert.NoError(t, err) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(file)
			assert.Equal(t, "notes.md", header.Filename)
			fmt.Fprintf(w, `{"id":"f1","name":%q,"size":%d,"status":"indexed","upload_time":"2024-01-01T00:00:00"}`, header.Filename, len(data))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/rag/files":
			assert.Equal(t, "s1", r.URL.Query().Get("session_id"))
			fmt.Fprint(w, `[{"id":"f1","name":"notes.md","size":5,"status":"indexed","upload_time":"x"}]`)
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/rag/files/f1":
			fmt.Fprint(w, `{"id":"f1","status":"deleted"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	ctx := context.Background()

	file, err := client.UploadFile(ctx, "s1", "notes.md", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "f1", file.ID)
	assert.Equal(t, int64(5), file.Size)
	assert.Equal(t, "s1", file.SessionID)

	files, err := client.ListFiles(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "s1", files[0].SessionID)

	require.NoError(t, client.DeleteFile(ctx, "f1"))
	assert.Error(t, client.DeleteFile(ctx, "f2"))
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]Status{
		"pending":  StatusPending,
		"PENDING":  StatusPending,
		"STARTED":  StatusProgress,
		"progress": StatusProgress,
		"SUCCESS":  StatusSuccess,
		"FAILURE":  StatusFailure,
		"REVOKED":  StatusFailure,
		"":         StatusPending,
	}
	for raw, want := range tests {
		assert.Equal(t, want, NormalizeStatus(raw), raw)
	}
}
