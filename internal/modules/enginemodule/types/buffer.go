package types

import "image"

// BufferKind distinguishes encoded packets from decoded frames.
type BufferKind int

const (
	BufferPacket BufferKind = iota
	BufferFrame
)

// Buffer is the unit that flows between pipeline stages. Decoded frames are
// planar YUV 4:2:0: a full size luma plane followed by two quarter size
// chroma planes.
type Buffer struct {
	Kind     BufferKind
	Data     []byte
	Width    int
	Height   int
	PTS      int64
	Duration int64
	Sequence int64

	// Combed is set by the comb detection filter.
	Combed bool
	EOF    bool
}

// EOFBuffer returns the end of stream marker.
func EOFBuffer() *Buffer {
	return &Buffer{EOF: true}
}

// FrameSize returns the byte size of a w×h 4:2:0 frame.
func FrameSize(w, h int) int {
	cw, ch := (w+1)/2, (h+1)/2
	return w*h + 2*cw*ch
}

// NewFrame allocates a black w×h frame.
func NewFrame(w, h int) *Buffer {
	b := &Buffer{Kind: BufferFrame, Width: w, Height: h, Data: make([]byte, FrameSize(w, h))}
	_, cb, cr := b.Planes()
	for i := range cb {
		cb[i] = 128
		cr[i] = 128
	}
	return b
}

// Planes splits the frame data into its Y, Cb and Cr planes.
func (b *Buffer) Planes() (y, cb, cr []byte) {
	ls := b.Width * b.Height
	cs := ((b.Width + 1) / 2) * ((b.Height + 1) / 2)
	if len(b.Data) < ls+2*cs {
		return b.Data, nil, nil
	}
	return b.Data[:ls], b.Data[ls : ls+cs], b.Data[ls+cs : ls+2*cs]
}

// Clone returns a copy of b with its own data.
func (b *Buffer) Clone() *Buffer {
	if b == nil {
		return nil
	}
	c := *b
	c.Data = append([]byte(nil), b.Data...)
	return &c
}

// YCbCr wraps the frame as an image without copying.
func (b *Buffer) YCbCr() *image.YCbCr {
	y, cb, cr := b.Planes()
	return &image.YCbCr{
		Y:              y,
		Cb:             cb,
		Cr:             cr,
		YStride:        b.Width,
		CStride:        (b.Width + 1) / 2,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, b.Width, b.Height),
	}
}

// FrameFromImage copies a 4:2:0 image into a new frame buffer.
func FrameFromImage(img *image.YCbCr) *Buffer {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	b := NewFrame(w, h)
	y, cb, cr := b.Planes()
	cw, ch := (w+1)/2, (h+1)/2
	for row := 0; row < h; row++ {
		off := img.YOffset(img.Rect.Min.X, img.Rect.Min.Y+row)
		copy(y[row*w:(row+1)*w], img.Y[off:off+w])
	}
	for row := 0; row < ch; row++ {
		off := img.COffset(img.Rect.Min.X, img.Rect.Min.Y+row*2)
		copy(cb[row*cw:(row+1)*cw], img.Cb[off:off+cw])
		copy(cr[row*cw:(row+1)*cw], img.Cr[off:off+cw])
	}
	return b
}

// Image is a decoded, geometry-corrected preview picture.
type Image struct {
	Geometry Geometry
	Pix      *image.RGBA
}
