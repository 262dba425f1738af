package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	ok := Entry{Name: "SNES", ExecutablePath: "/emu/snes9x.exe", Category: "nintendo"}
	assert.NoError(t, Validate(ok))

	cases := map[string]Entry{
		"missing name":  {ExecutablePath: "/x.exe"},
		"missing path":  {Name: "x"},
		"long name":     {Name: strings.Repeat("n", 201), ExecutablePath: "/x.exe"},
		"bad category":  {Name: "x", ExecutablePath: "/x.exe", Category: "Has Space"},
		"long argument": {Name: "x", ExecutablePath: "/x.exe", Arguments: strings.Repeat("a", 4097)},
	}
	for name, e := range cases {
		t.Run(name, func(t *testing.T) {
			err := Validate(e)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidEntry)
		})
	}
}

func TestPrepareNew(t *testing.T) {
	now := time.Date(2024, 2, 3, 4, 5, 6, 0, time.FixedZone("x", 3600))
	last := now
	e, err := PrepareNew(Entry{
		ID: "caller-chosen", Name: "  Dolphin ", ExecutablePath: " /dolphin.exe ",
		Category: " GameCube ", LaunchCount: 5, LastLaunchedAt: &last,
	}, now)
	require.NoError(t, err)
	assert.Len(t, e.ID, 36)
	assert.NotEqual(t, "caller-chosen", e.ID)
	assert.Equal(t, "Dolphin", e.Name)
	assert.Equal(t, "/dolphin.exe", e.ExecutablePath)
	assert.Equal(t, "gamecube", e.Category)
	assert.Equal(t, time.UTC, e.CreatedAt.Location())
	assert.Zero(t, e.LaunchCount)
	assert.Nil(t, e.LastLaunchedAt)
}

func TestPrepareUpdateNeedsID(t *testing.T) {
	_, err := PrepareUpdate(Entry{Name: "x", ExecutablePath: "/x.exe"})
	assert.ErrorIs(t, err, ErrInvalidEntry)
}
