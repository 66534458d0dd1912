// Package shmring is a single-writer byte ring in a shared memory file, used
// to hand transmit samples to a co-located consumer.
package shmring

import (
	"errors"
	"unsafe"
)

// Header sits at the very beginning of the shared memory.
type Header struct {
	Magic      uint64 // For validation
	Size       uint64 // Data size, excluding header
	Head       uint64 // Writer position (byte offset)
	Tail       uint64 // Reader position (byte offset)
	Written    uint64 // Total bytes ever written
	SampleRate uint64 // Hz, informational
	Version    uint32
	Channels   uint32
}

const (
	HeaderSize = uint64(unsafe.Sizeof(Header{}))
	MagicValue = 0x464d54585249474e // "FMTXRIGN"
	Version    = 2

	// Dir is where named rings live.
	Dir = "/dev/shm/"
)

var (
	ErrUnsupported = errors.New("shared memory ring not supported on this platform")
	ErrBadMagic    = errors.New("invalid magic value in shm")
	ErrTooLarge    = errors.New("write larger than ring size")
)

// PathFor maps a ring name to its file.
func PathFor(name string) string {
	for len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}
	return Dir + name
}
