package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatppt/chatppt/internal/config"
	"github.com/chatppt/chatppt/internal/sessions"
	"github.com/chatppt/chatppt/internal/transport"
)

const slidesFrame = `{"text": "[{\"slide_type\": \"content\", \"title\": \"Go\", \"content\": [\"channels\"]}]"}`

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("/api/v1/stream/outline", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", slidesFrame)
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func loadConfig(t *testing.T, driver, backendURL string) {
	t.Helper()
	t.Setenv("CHATPPT_STORAGE_DRIVER", driver)
	t.Setenv("CHATPPT_STORAGE_DIR", filepath.Join(t.TempDir(), "sessions"))
	t.Setenv("CHATPPT_DOWNLOAD_DIR", filepath.Join(t.TempDir(), "downloads"))
	t.Setenv("CHATPPT_BACKEND_URL", backendURL)
	config.LoadDefault()
	config.ApplyEnvOverrides()
}

func TestNewWiresStorageDrivers(t *testing.T) {
	backend := newBackend(t)

	for _, driver := range []string{config.StorageMemory, config.StorageFile} {
		t.Run(driver, func(t *testing.T) {
			loadConfig(t, driver, backend.URL)

			as, err := New(context.Background(), zap.NewNop())
			require.NoError(t, err)
			defer as.Close(context.Background())

			assert.IsType(t, &transport.StreamGenerator{}, as.Generator)
			require.NoError(t, as.Health.StartupHealthCheck(context.Background()))

			results := as.Health.RuntimeHealthCheck(context.Background())
			assert.NoError(t, results["generation_backend"])
			assert.NoError(t, results["download_dir"])
		})
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	loadConfig(t, "sqlite", "http://127.0.0.1:1")

	_, err := New(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
}

func TestPollModeSelectsPollGenerator(t *testing.T) {
	loadConfig(t, config.StorageMemory, "http://127.0.0.1:1")
	t.Setenv("CHATPPT_BACKEND_MODE", config.BackendModePoll)
	config.ApplyEnvOverrides()

	as, err := New(context.Background(), nil)
	require.NoError(t, err)
	defer as.Close(context.Background())

	assert.IsType(t, &transport.PollGenerator{}, as.Generator)
}

func TestConversationPersistsThroughFileStore(t *testing.T) {
	backend := newBackend(t)
	loadConfig(t, config.StorageFile, backend.URL)

	as, err := New(context.Background(), zap.NewNop())
	require.NoError(t, err)
	defer as.Close(context.Background())

	require.NoError(t, as.Machine.SendMessage("a talk about Go"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, as.Machine.Wait(ctx))

	st := as.Machine.State()
	assert.Equal(t, sessions.PhaseContent, st.Phase)
	require.Len(t, st.Slides, 1)
	assert.Equal(t, "Go", st.Slides[0].Title)

	entries, err := as.SessionService.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, st.SessionID, entries[0].ID)
}
