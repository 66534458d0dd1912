//go:build linux

package shmring

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

type Ring struct {
	fd     int
	data   []byte
	header *Header
	total  uint64
	path   string
}

// Create makes a named ring of size data bytes in Dir.
func Create(name string, size uint64, sampleRate uint64) (*Ring, error) {
	return CreateAt(PathFor(name), size, sampleRate)
}

// CreateAt makes a ring backed by the file at path. An existing ring of any
// size is replaced.
func CreateAt(path string, size uint64, sampleRate uint64) (*Ring, error) {
	if size == 0 {
		return nil, fmt.Errorf("ring size must be positive")
	}
	f, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open shm: %w", err)
	}

	totalSize := HeaderSize + size
	if err := unix.Ftruncate(f, int64(totalSize)); err != nil {
		unix.Close(f)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}

	data, err := unix.Mmap(f, 0, int(totalSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(f)
		return nil, fmt.Errorf("mmap: %w", err)
	}

	r := &Ring{fd: f, data: data, total: size, path: path}
	r.header = (*Header)(unsafe.Pointer(&data[0]))
	r.header.Size = size
	r.header.Version = Version
	r.header.Channels = 2
	r.header.SampleRate = sampleRate
	atomic.StoreUint64(&r.header.Head, 0)
	atomic.StoreUint64(&r.header.Tail, 0)
	atomic.StoreUint64(&r.header.Written, 0)
	// Magic last: readers treat a ring without it as not ready.
	atomic.StoreUint64(&r.header.Magic, MagicValue)
	return r, nil
}

// Open attaches to a named ring.
func Open(name string) (*Ring, error) {
	return OpenAt(PathFor(name))
}

// OpenAt attaches to the ring backed by path.
func OpenAt(path string) (*Ring, error) {
	f, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open shm: %w", err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(f, &stat); err != nil {
		unix.Close(f)
		return nil, fmt.Errorf("fstat: %w", err)
	}
	if uint64(stat.Size) <= HeaderSize {
		unix.Close(f)
		return nil, fmt.Errorf("%s: %w", path, ErrBadMagic)
	}

	data, err := unix.Mmap(f, 0, int(stat.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(f)
		return nil, fmt.Errorf("mmap: %w", err)
	}

	r := &Ring{fd: f, data: data, total: uint64(stat.Size) - HeaderSize, path: path}
	r.header = (*Header)(unsafe.Pointer(&data[0]))
	if atomic.LoadUint64(&r.header.Magic) != MagicValue {
		r.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrBadMagic)
	}
	return r, nil
}

// Write copies p in at Head, wrapping, then publishes the new Head.
func (r *Ring) Write(p []byte) (int, error) {
	n := uint64(len(p))
	if n > r.total {
		return 0, ErrTooLarge
	}

	head := atomic.LoadUint64(&r.header.Head)
	dest := r.data[HeaderSize:]

	firstPart := r.total - head
	if n <= firstPart {
		copy(dest[head:], p)
	} else {
		copy(dest[head:], p[:firstPart])
		copy(dest, p[firstPart:])
	}

	atomic.StoreUint64(&r.header.Head, (head+n)%r.total)
	atomic.AddUint64(&r.header.Written, n)
	return len(p), nil
}

// Pointers returns Head and Tail.
func (r *Ring) Pointers() (uint64, uint64) {
	return atomic.LoadUint64(&r.header.Head), atomic.LoadUint64(&r.header.Tail)
}

// SetTail is for the reader to record its position.
func (r *Ring) SetTail(tail uint64) {
	atomic.StoreUint64(&r.header.Tail, tail%r.total)
}

// Read copies up to len(p) bytes from Tail towards Head and advances Tail.
// Head equal to Tail reads as empty, including when the writer has lapped
// the reader by exactly the ring size. Read cannot see lapping at all:
// callers must count the bytes they consume and compare with Written, and
// resynchronize when the difference exceeds Size.
func (r *Ring) Read(p []byte) int {
	head, tail := r.Pointers()
	n := min(uint64(len(p)), (head+r.total-tail)%r.total)
	src := r.data[HeaderSize:]
	if tail+n <= r.total {
		copy(p, src[tail:tail+n])
	} else {
		k := copy(p, src[tail:])
		copy(p[k:n], src)
	}
	r.SetTail(tail + n)
	return int(n)
}

// Written is the total number of bytes written since creation.
func (r *Ring) Written() uint64 {
	return atomic.LoadUint64(&r.header.Written)
}

// Size is the data capacity in bytes.
func (r *Ring) Size() uint64 { return r.total }

// SampleRate is the rate the writer recorded.
func (r *Ring) SampleRate() uint64 { return r.header.SampleRate }

// Latest copies the len(dst) bytes that end at Head into dst.
func (r *Ring) Latest(dst []byte) int {
	n := min(uint64(len(dst)), r.total, r.Written())
	head := atomic.LoadUint64(&r.header.Head)
	src := r.data[HeaderSize:]
	start := (head + r.total - n) % r.total
	if start+n <= r.total {
		copy(dst, src[start:start+n])
	} else {
		k := copy(dst, src[start:])
		copy(dst[k:n], src)
	}
	return int(n)
}

// Close unmaps the ring. The backing file stays; see Remove.
func (r *Ring) Close() error {
	if r.data != nil {
		unix.Munmap(r.data)
		r.data = nil
	}
	if r.fd >= 0 {
		unix.Close(r.fd)
		r.fd = -1
	}
	return nil
}

// Remove unlinks a named ring. A missing ring is not an error.
func Remove(name string) error {
	err := unix.Unlink(PathFor(name))
	if err != nil && err != unix.ENOENT {
		return err
	}
	return nil
}
