package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubeward/cubeward/internal/lifecycle"
	"github.com/cubeward/cubeward/internal/profile"
	iserver "github.com/cubeward/cubeward/internal/server"
)

func newTestPanel(t *testing.T) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := profile.Open(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctl := lifecycle.New(lifecycle.Options{Logger: discard, Store: store})
	router := iserver.NewRouter(ctl, store, discard, "")
	srv := httptest.NewServer(router.Handler())
	t.Cleanup(srv.Close)

	return New(Config{BaseURL: srv.URL, Logger: discard})
}

func TestIsReachable(t *testing.T) {
	c := newTestPanel(t)
	assert.True(t, c.IsReachable(context.Background()))

	down := New(Config{BaseURL: "http://127.0.0.1:1", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	assert.False(t, down.IsReachable(context.Background()))
}

func TestStatus(t *testing.T) {
	c := newTestPanel(t)
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st.Profile)
	assert.Len(t, st.Roles, 3)
	assert.Nil(t, st.Monitor)
}

func TestStartServerErrorIsStructured(t *testing.T) {
	c := newTestPanel(t)
	err := c.StartServer(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 409, apiErr.Status)
	assert.Equal(t, "not_running", apiErr.Kind)
	assert.Contains(t, apiErr.Error(), "not_running")
}

func TestProfileRoundTrip(t *testing.T) {
	c := newTestPanel(t)
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, c.SaveProfile(ctx, Profile{
		Name:         "survival",
		ServerPath:   dir,
		RCONPassword: "hunter2",
	}))

	ps, err := c.Profiles(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "survival", ps[0].Name)
	assert.Empty(t, ps[0].RCONPassword, "list response must not carry credentials")

	p, err := c.GetProfile(ctx, "survival")
	require.NoError(t, err)
	assert.Equal(t, dir, p.ServerPath)
	assert.Equal(t, "hunter2", p.RCONPassword)
	assert.NotZero(t, p.RCONPort, "server normalizes defaults")

	require.NoError(t, c.DeleteProfile(ctx, "survival"))
	_, err = c.GetProfile(ctx, "survival")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 404, apiErr.Status)
}

func TestActivateAndLogs(t *testing.T) {
	c := newTestPanel(t)
	ctx := context.Background()

	require.NoError(t, c.SaveProfile(ctx, Profile{Name: "a", ServerPath: t.TempDir()}))
	require.NoError(t, c.ActivateProfile(ctx, "a", false))

	// Second activation without force reports the conflict.
	err := c.ActivateProfile(ctx, "a", false)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "already_active", apiErr.Kind)

	lines, err := c.Logs(ctx)
	require.NoError(t, err)
	assert.Empty(t, lines)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", st.Profile)
}

func TestAcknowledgeNotFailed(t *testing.T) {
	c := newTestPanel(t)
	err := c.Acknowledge(context.Background(), "server")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 409, apiErr.Status)
}
