package shm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestWriteKeymap(t *testing.T) {
	keymap := `xkb_keymap { xkb_keycodes { include "evdev" }; };`

	fd, size, err := WriteKeymap(keymap)
	require.NoError(t, err)
	defer func() { _ = unix.Close(fd) }()

	assert.Equal(t, uint32(len(keymap)+1), size)

	var stat unix.Stat_t
	require.NoError(t, unix.Fstat(fd, &stat))
	assert.Equal(t, int64(size), stat.Size)

	got, err := ReadKeymap(fd, size)
	require.NoError(t, err)
	assert.Equal(t, keymap, got)
}

func TestWriteKeymap_Empty(t *testing.T) {
	fd, size, err := WriteKeymap("")
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Equal(t, -1, fd)
	assert.Zero(t, size)
}

func TestCreateAnonymousFile_InvalidSize(t *testing.T) {
	_, err := CreateAnonymousFile(0)
	assert.ErrorIs(t, err, ErrEmpty)
}
