//go:build !linux

package shmring

type Ring struct{}

func Create(name string, size uint64, sampleRate uint64) (*Ring, error) {
	return nil, ErrUnsupported
}

func CreateAt(path string, size uint64, sampleRate uint64) (*Ring, error) {
	return nil, ErrUnsupported
}

func Open(name string) (*Ring, error) { return nil, ErrUnsupported }
func OpenAt(path string) (*Ring, error) { return nil, ErrUnsupported }
func Remove(name string) error { return ErrUnsupported }

func (r *Ring) Write(p []byte) (int, error) { return 0, ErrUnsupported }
func (r *Ring) Pointers() (uint64, uint64) { return 0, 0 }
func (r *Ring) SetTail(tail uint64) {}
func (r *Ring) Read(p []byte) int { return 0 }
func (r *Ring) Written() uint64 { return 0 }
func (r *Ring) Size() uint64 { return 0 }
func (r *Ring) SampleRate() uint64 { return 0 }
func (r *Ring) Latest(dst []byte) int { return 0 }
func (r *Ring) Close() error { return nil }
