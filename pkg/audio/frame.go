package audio

// FrameBuffer accumulates raw audio bytes arriving at one leg's packet
// cadence and hands them back in the complete unit sizes the other leg
// needs. It is bounded: when more than maxBytes are held the oldest bytes
// are discarded, keeping the stream live at the cost of a dropped fragment.
//
// FrameBuffer is not safe for concurrent use; each relay direction owns its
// own instance.
type FrameBuffer struct {
	buf      []byte
	maxBytes int
	dropped  int
}

// NewFrameBuffer creates a buffer holding at most maxBytes of pending audio.
func NewFrameBuffer(maxBytes int) *FrameBuffer {
	if maxBytes <= 0 {
		maxBytes = 64 * 1024
	}
	return &FrameBuffer{maxBytes: maxBytes}
}

// Push appends incoming bytes, discarding the oldest data on overflow.
func (f *FrameBuffer) Push(b []byte) {
	f.buf = append(f.buf, b...)
	if len(f.buf) > f.maxBytes {
		excess := len(f.buf) - f.maxBytes
		f.buf = f.buf[excess:]
		f.dropped += excess
	}
}

// Pop removes and returns exactly n bytes, or nil and false when fewer than
// n bytes are buffered.
func (f *FrameBuffer) Pop(n int) ([]byte, bool) {
	if n <= 0 || len(f.buf) < n {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, f.buf[:n])
	f.buf = f.buf[n:]
	return out, true
}

// Drain removes and returns everything buffered.
func (f *FrameBuffer) Drain() []byte {
	if len(f.buf) == 0 {
		return nil
	}
	out := f.buf
	f.buf = nil
	return out
}

// Len reports the number of buffered bytes.
func (f *FrameBuffer) Len() int { return len(f.buf) }

// Dropped reports the total bytes discarded due to overflow.
func (f *FrameBuffer) Dropped() int { return f.dropped }
