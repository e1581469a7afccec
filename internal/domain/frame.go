package domain

// Frame is one decoded still frame as raw interleaved RGB, one byte per
// channel, row-major. The session owns the frame it displays; anything handed
// to the inference engine must be a Clone so the engine's handling of its
// input can never invalidate the displayed copy.
type Frame struct {
	Pixels []byte
	Width  int
	Height int
}

// NewFrame copies pixels into a freshly owned frame.
func NewFrame(pixels []byte, width, height int) *Frame {
	buf := make([]byte, len(pixels))
	copy(buf, pixels)
	return &Frame{Pixels: buf, Width: width, Height: height}
}

// Clone returns an independent copy of the frame.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	return NewFrame(f.Pixels, f.Width, f.Height)
}

// Release drops the pixel buffer. A released frame must not be used again;
// the nil buffer makes accidental reuse fail loudly instead of showing
// stale pixels.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.Pixels = nil
	f.Width = 0
	f.Height = 0
}
