// Package shm hands blobs such as XKB keymaps to clients through anonymous
// shared memory files.
package shm

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrEmpty is returned when asked to share a zero-length blob.
var ErrEmpty = errors.New("shm: empty blob")

// CreateAnonymousFile returns a close-on-exec memfd truncated to size bytes.
func CreateAnonymousFile(size int64) (int, error) {
	if size <= 0 {
		return -1, ErrEmpty
	}
	fd, err := unix.MemfdCreate("wayime-shm", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return -1, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("ftruncate %d bytes: %w", size, err)
	}
	return fd, nil
}

// KeymapSize is the byte length a keymap occupies once shared, including the
// trailing NUL clients expect.
func KeymapSize(keymap string) uint32 {
	return uint32(len(keymap) + 1)
}

// WriteKeymap copies keymap plus a NUL terminator into a fresh anonymous
// file and returns its descriptor and size. The mapping is released before
// returning; the caller closes fd once it has been handed off.
func WriteKeymap(keymap string) (fd int, size uint32, err error) {
	if keymap == "" {
		return -1, 0, ErrEmpty
	}
	size = KeymapSize(keymap)

	fd, err = CreateAnonymousFile(int64(size))
	if err != nil {
		return -1, 0, err
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return -1, 0, fmt.Errorf("mmap %d bytes: %w", size, err)
	}

	copy(data, keymap)
	data[len(keymap)] = 0

	if err := unix.Munmap(data); err != nil {
		_ = unix.Close(fd)
		return -1, 0, fmt.Errorf("munmap: %w", err)
	}

	return fd, size, nil
}

// ReadKeymap maps a shared keymap read-only and returns its text without the
// trailing NUL.
func ReadKeymap(fd int, size uint32) (string, error) {
	if size == 0 {
		return "", ErrEmpty
	}
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return "", fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	defer func() { _ = unix.Munmap(data) }()

	n := len(data)
	for n > 0 && data[n-1] == 0 {
		n--
	}
	return string(data[:n]), nil
}
