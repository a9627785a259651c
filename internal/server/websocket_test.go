package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubeward/cubeward/internal/events"
	"github.com/cubeward/cubeward/internal/lifecycle"
)

func TestEventFeedRelaysBusEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctl := lifecycle.New(lifecycle.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	r := NewRouter(ctl, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), "")

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = conn.Close() }()

	// Give the subscription a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)
	ctl.Events().Publish(events.Event{
		Kind:    events.KindStateChange,
		Role:    "server",
		From:    "stopped",
		To:      "starting",
		Message: "start requested",
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.KindStateChange, got.Kind)
	assert.Equal(t, "starting", got.To)
}

func TestEventFeedReplaysConsoleTail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctl := lifecycle.New(lifecycle.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	r := NewRouter(ctl, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), "")

	// Seed the console ring before any client connects.
	_, err := ctl.ConsoleWriter().Write([]byte("first line\nsecond line\n"))
	require.NoError(t, err)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var first, second events.Event
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, events.KindConsoleLine, first.Kind)
	assert.Equal(t, "first line", first.Message)
	assert.Equal(t, "second line", second.Message)
}

func TestEventFeedDeliversEachConsoleLineOnce(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctl := lifecycle.New(lifecycle.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	r := NewRouter(ctl, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), "")

	_, err := ctl.ConsoleWriter().Write([]byte("seed-1\nseed-2\n"))
	require.NoError(t, err)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = conn.Close() }()

	// Hammer the console while the feed is still setting up its replay;
	// lines landing between the tail snapshot and the subscription must
	// not come through both paths.
	go func() {
		for i := 0; i < 25; i++ {
			_, _ = ctl.ConsoleWriter().Write([]byte(fmt.Sprintf("live-%d\n", i)))
		}
	}()

	counts := make(map[string]int)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	for {
		var e events.Event
		if err := conn.ReadJSON(&e); err != nil {
			break
		}
		counts[e.Message]++
	}
	for msg, n := range counts {
		assert.Equal(t, 1, n, "line %q delivered %d times", msg, n)
	}
	assert.Equal(t, 1, counts["seed-1"])
	assert.Equal(t, 1, counts["seed-2"])
}
