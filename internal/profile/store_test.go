package profile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := Profile{
		Name:            "survival",
		ServerPath:      "/srv/mc/survival",
		RunScript:       "run.sh",
		Host:            "localhost",
		RCONPort:        25575,
		RCONPassword:    "secret",
		QueryPort:       25565,
		InactivityLimit: 30 * time.Minute,
		PollingInterval: time.Minute,
	}
	require.NoError(t, s.Save(ctx, p))

	got, err := s.Get(ctx, "survival")
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestSaveOverwritesByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, Profile{Name: "a", ServerPath: "/one"}))
	require.NoError(t, s.Save(ctx, Profile{Name: "a", ServerPath: "/two"}))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "/two", got.ServerPath)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListOrderedByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, s.Save(ctx, Profile{Name: name, ServerPath: "/srv"}))
	}
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "bravo", list[1].Name)
	assert.Equal(t, "charlie", list[2].Name)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Profile{Name: "a", ServerPath: "/srv"}))
	require.NoError(t, s.Delete(ctx, "a"))
	_, err := s.Get(ctx, "a")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(s.Delete(ctx, "a"), ErrNotFound))
}

func TestActivePointer(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Active(ctx)
	assert.True(t, errors.Is(err, ErrNotFound), "no active profile yet")

	require.NoError(t, s.Save(ctx, Profile{Name: "a", ServerPath: "/one"}))
	require.NoError(t, s.Save(ctx, Profile{Name: "b", ServerPath: "/two"}))

	assert.Error(t, s.SetActive(ctx, "ghost"), "activating unknown profile must fail")

	require.NoError(t, s.SetActive(ctx, "a"))
	got, err := s.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)

	// Swapping replaces the single pointer row.
	require.NoError(t, s.SetActive(ctx, "b"))
	got, err = s.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Name)

	// Deleting the active profile clears the pointer.
	require.NoError(t, s.Delete(ctx, "b"))
	_, err = s.Active(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))
}
