package cubeward

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPanel(t *testing.T) *Panel {
	t.Helper()
	gin.SetMode(gin.TestMode)
	p, err := New(Options{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		ProfileDB: filepath.Join(t.TempDir(), "profiles.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPanelProfileManagement(t *testing.T) {
	p := newTestPanel(t)
	ctx := context.Background()

	require.NoError(t, p.SaveProfile(ctx, Profile{
		Name:       "survival",
		ServerPath: t.TempDir(),
	}))

	ps, err := p.Profiles(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "survival", ps[0].Name)
	assert.NotEmpty(t, ps[0].RCONPassword, "save must normalize defaults")

	require.NoError(t, p.DeleteProfile(ctx, "survival"))
	ps, err = p.Profiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestPanelSaveRejectsInvalidProfile(t *testing.T) {
	p := newTestPanel(t)
	err := p.SaveProfile(context.Background(), Profile{Name: "bad", ServerPath: "relative"})
	assert.Error(t, err)
}

func TestPanelStatusAndErrors(t *testing.T) {
	p := newTestPanel(t)

	st := p.Status()
	assert.Len(t, st.Roles, 3)
	assert.Empty(t, st.Profile)

	err := p.StartServer()
	var ce *ControlError
	require.ErrorAs(t, err, &ce)

	require.NoError(t, p.SaveProfile(context.Background(), Profile{
		Name:       "a",
		ServerPath: t.TempDir(),
	}))
	require.NoError(t, p.ActivateProfile(context.Background(), "a", false))
	assert.Equal(t, "a", p.Status().Profile)
}

func TestPanelHandlerMounts(t *testing.T) {
	p := newTestPanel(t)
	srv := httptest.NewServer(p.Handler("/panel"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/panel/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPanelSubscribe(t *testing.T) {
	p := newTestPanel(t)
	ch, cancel := p.Subscribe(8)
	defer cancel()

	require.NoError(t, p.SaveProfile(context.Background(), Profile{
		Name:       "a",
		ServerPath: t.TempDir(),
	}))
	require.NoError(t, p.ActivateProfile(context.Background(), "a", false))

	e := <-ch
	assert.NotEmpty(t, e.Kind)
}
