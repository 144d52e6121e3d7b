package mediasource

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

var (
	ErrBufferUpdating = errors.New("source buffer is still updating")
	ErrStreamEnded    = errors.New("source buffer stream has ended")
)

// SourceBuffer accepts media data asynchronously. After every successful
// AppendBuffer the caller must receive once from UpdateEnd before the next
// append.
type SourceBuffer interface {
	MimeType() string
	AppendBuffer(ctx context.Context, data []byte) error
	UpdateEnd() <-chan struct{}
}

// MemoryBuffer is a SourceBuffer that keeps everything appended.
type MemoryBuffer struct {
	mimeType  string
	updateEnd chan struct{}

	mu       sync.Mutex
	data     []byte
	appends  int
	updating bool
	ended    bool
}

// NewMemoryBuffer returns an empty buffer for mimeType.
func NewMemoryBuffer(mimeType string) *MemoryBuffer {
	return &MemoryBuffer{
		mimeType:  mimeType,
		updateEnd: make(chan struct{}, 1),
	}
}

func (b *MemoryBuffer) MimeType() string { return b.mimeType }

func (b *MemoryBuffer) UpdateEnd() <-chan struct{} { return b.updateEnd }

// AppendBuffer queues data and returns immediately.
func (b *MemoryBuffer) AppendBuffer(_ context.Context, data []byte) error {
	b.mu.Lock()
	switch {
	case b.ended:
		b.mu.Unlock()
		return ErrStreamEnded
	case b.updating:
		b.mu.Unlock()
		return ErrBufferUpdating
	}
	b.updating = true
	b.mu.Unlock()

	chunk := bytes.Clone(data)
	go func() {
		b.mu.Lock()
		b.data = append(b.data, chunk...)
		b.appends++
		b.updating = false
		b.mu.Unlock()
		b.updateEnd <- struct{}{}
	}()
	return nil
}

// EndOfStream marks the buffer complete. Later appends fail.
func (b *MemoryBuffer) EndOfStream() {
	b.mu.Lock()
	b.ended = true
	b.mu.Unlock()
}

// Bytes returns a copy of the buffered data.
func (b *MemoryBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.data)
}

// Len returns the number of buffered bytes.
func (b *MemoryBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Appends returns the number of completed appends.
func (b *MemoryBuffer) Appends() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appends
}

// Ended reports whether EndOfStream was called.
func (b *MemoryBuffer) Ended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ended
}
