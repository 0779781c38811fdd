package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatppt/chatppt/internal/transport"
)

type stubChecker struct {
	name     string
	critical bool
	err      error
}

func (s stubChecker) HealthCheck(context.Context) error { return s.err }
func (s stubChecker) IsCritical() bool                  { return s.critical }
func (s stubChecker) Name() string                      { return s.name }

func TestStartupHealthCheck(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		wantErr  bool
	}{
		{
			name:     "all healthy",
			checkers: []Checker{stubChecker{name: "a", critical: true}, stubChecker{name: "b"}},
		},
		{
			name:     "non-critical failure is tolerated",
			checkers: []Checker{stubChecker{name: "a", critical: true}, stubChecker{name: "b", err: errors.New("down")}},
		},
		{
			name:     "critical failure blocks startup",
			checkers: []Checker{stubChecker{name: "a", critical: true, err: errors.New("down")}},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(zap.NewNop())
			for _, c := range tt.checkers {
				m.AddChecker(c)
			}

			err := m.StartupHealthCheck(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRuntimeHealthCheck(t *testing.T) {
	m := NewManager(nil)
	m.AddChecker(stubChecker{name: "ok"})
	m.AddChecker(stubChecker{name: "broken", err: errors.New("boom")})

	results := m.RuntimeHealthCheck(context.Background())
	require.Len(t, results, 2)
	assert.NoError(t, results["ok"])
	assert.EqualError(t, results["broken"], "boom")
}

func TestDirectoryChecker(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "store")
	c := NewDirectoryChecker("session_files", dir, true)

	require.NoError(t, c.HealthCheck(context.Background()))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.True(t, c.IsCritical())
	assert.Equal(t, "session_files", c.Name())
}

func TestBackendChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	c := NewBackendChecker(transport.NewClient(srv.URL))
	assert.NoError(t, c.HealthCheck(context.Background()))
	assert.False(t, c.IsCritical())

	srv.Close()
	assert.Error(t, c.HealthCheck(context.Background()))

	assert.Error(t, NewBackendChecker(nil).HealthCheck(context.Background()))
}
