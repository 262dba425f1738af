// Package storetest is a conformance suite run against every store.Store backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/launchpad/internal/store"
)

// Run exercises s, which must be empty and have its schema in place.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("create assigns identity and defaults", func(t *testing.T) {
		e, err := s.Create(ctx, store.Entry{Name: " SNES ", ExecutablePath: "/emu/snes9x.exe", ID: "ignored", LaunchCount: 9})
		require.NoError(t, err)
		assert.NotEmpty(t, e.ID)
		assert.NotEqual(t, "ignored", e.ID)
		assert.Equal(t, "SNES", e.Name)
		assert.Equal(t, store.DefaultCategory, e.Category)
		assert.Zero(t, e.LaunchCount)
		assert.Nil(t, e.LastLaunchedAt)
		assert.Nil(t, e.WorkingDirectory)
		assert.False(t, e.CreatedAt.IsZero())

		got, err := s.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, e.ID, got.ID)
		assert.Equal(t, e.Name, got.Name)
		assert.True(t, e.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("create rejects invalid", func(t *testing.T) {
		_, err := s.Create(ctx, store.Entry{ExecutablePath: "/x.exe"})
		assert.ErrorIs(t, err, store.ErrInvalidEntry)
		_, err = s.Create(ctx, store.Entry{Name: "x", ExecutablePath: "/x.exe", Category: "Not A Slug!"})
		assert.ErrorIs(t, err, store.ErrInvalidEntry)
	})

	t.Run("ids are unique", func(t *testing.T) {
		a, err := s.Create(ctx, store.Entry{Name: "a", ExecutablePath: "/a.exe"})
		require.NoError(t, err)
		b, err := s.Create(ctx, store.Entry{Name: "a", ExecutablePath: "/a.exe"})
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("working directory round trip", func(t *testing.T) {
		wd := "/emu/roms"
		e, err := s.Create(ctx, store.Entry{Name: "wd", ExecutablePath: "/wd.exe", WorkingDirectory: &wd})
		require.NoError(t, err)
		got, err := s.Get(ctx, e.ID)
		require.NoError(t, err)
		require.NotNil(t, got.WorkingDirectory)
		assert.Equal(t, wd, *got.WorkingDirectory)

		blank := "  "
		e2, err := s.Create(ctx, store.Entry{Name: "wd2", ExecutablePath: "/wd.exe", WorkingDirectory: &blank})
		require.NoError(t, err)
		assert.Nil(t, e2.WorkingDirectory, "blank working directory is stored as unset")
	})

	t.Run("update keeps store owned fields", func(t *testing.T) {
		e, err := s.Create(ctx, store.Entry{Name: "n64", ExecutablePath: "/n64.exe", Category: "nintendo"})
		require.NoError(t, err)
		_, err = s.RecordLaunch(ctx, e.ID, time.Now())
		require.NoError(t, err)

		edit := e
		edit.Name = "Nintendo 64"
		edit.Arguments = "--fullscreen"
		edit.LaunchCount = 0
		edit.CreatedAt = time.Unix(0, 0)
		edit.LastLaunchedAt = nil
		got, err := s.Update(ctx, edit)
		require.NoError(t, err)
		assert.Equal(t, "Nintendo 64", got.Name)
		assert.Equal(t, "--fullscreen", got.Arguments)
		assert.EqualValues(t, 1, got.LaunchCount)
		assert.NotNil(t, got.LastLaunchedAt)
		assert.True(t, e.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("update missing", func(t *testing.T) {
		_, err := s.Update(ctx, store.Entry{ID: "nope", Name: "x", ExecutablePath: "/x.exe"})
		assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
		_, err = s.Update(ctx, store.Entry{Name: "x", ExecutablePath: "/x.exe"})
		assert.ErrorIs(t, err, store.ErrInvalidEntry)
	})

	t.Run("record launch only increments", func(t *testing.T) {
		e, err := s.Create(ctx, store.Entry{Name: "psx", ExecutablePath: "/psx.exe"})
		require.NoError(t, err)
		at := time.Date(2024, 6, 1, 18, 30, 0, 0, time.UTC)
		for i := 1; i <= 3; i++ {
			got, err := s.RecordLaunch(ctx, e.ID, at.Add(time.Duration(i)*time.Minute))
			require.NoError(t, err)
			assert.EqualValues(t, i, got.LaunchCount)
			require.NotNil(t, got.LastLaunchedAt)
			assert.True(t, got.LastLaunchedAt.Equal(at.Add(time.Duration(i)*time.Minute)))
		}
		_, err = s.RecordLaunch(ctx, "nope", at)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list ordered by category then name", func(t *testing.T) {
		_, err := s.Create(ctx, store.Entry{Name: "zz", ExecutablePath: "/z.exe", Category: "aaa"})
		require.NoError(t, err)
		all, err := s.List(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, all)
		assert.Equal(t, "aaa", all[0].Category)
		for i := 1; i < len(all); i++ {
			prev, cur := all[i-1], all[i]
			if prev.Category == cur.Category {
				assert.LessOrEqual(t, prev.Name, cur.Name)
			} else {
				assert.Less(t, prev.Category, cur.Category)
			}
		}
	})

	t.Run("delete", func(t *testing.T) {
		e, err := s.Create(ctx, store.Entry{Name: "gone", ExecutablePath: "/g.exe"})
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, e.ID))
		_, err = s.Get(ctx, e.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, e.ID), store.ErrNotFound)
	})
}
