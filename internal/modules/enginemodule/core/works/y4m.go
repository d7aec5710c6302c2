// Package works contains the built-in work objects: readers for YUV4MPEG2
// files and anything ffmpeg can open, the rawvideo decoder and encoder, and
// the y4m and null muxers.
package works

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

const (
	y4mMagic = "YUV4MPEG2"
	y4mFrame = "FRAME"
)

// y4mHeader is the stream header of a YUV4MPEG2 file.
type y4mHeader struct {
	Width      int
	Height     int
	FrameRate  types.Rational
	PAR        types.Rational
	Interlace  byte
	Colorspace string
	// Size is the header length in bytes including the newline.
	Size int
}

func (h y4mHeader) frameSize() int {
	return types.FrameSize(h.Width, h.Height)
}

// frameStride is the on-disk size of one frame without frame parameters.
func (h y4mHeader) frameStride() int64 {
	return int64(len(y4mFrame)+1) + int64(h.frameSize())
}

func readY4MHeader(r *bufio.Reader) (y4mHeader, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return y4mHeader{}, fmt.Errorf("read y4m header: %w", err)
	}
	h := y4mHeader{
		FrameRate: types.Rational{Num: 25, Den: 1},
		PAR:       types.Rational{Num: 1, Den: 1},
		Interlace: 'p',
		Size:      len(line),
	}
	fields := strings.Fields(strings.TrimSuffix(line, "\n"))
	if len(fields) == 0 || fields[0] != y4mMagic {
		return y4mHeader{}, fmt.Errorf("not a YUV4MPEG2 stream")
	}
	for _, f := range fields[1:] {
		if len(f) < 2 {
			continue
		}
		val := f[1:]
		switch f[0] {
		case 'W':
			h.Width, err = strconv.Atoi(val)
		case 'H':
			h.Height, err = strconv.Atoi(val)
		case 'F':
			h.FrameRate, err = parseRatio(val)
		case 'A':
			h.PAR, err = parseRatio(val)
			if err == nil && !h.PAR.Valid() {
				h.PAR = types.Rational{Num: 1, Den: 1}
			}
		case 'I':
			h.Interlace = val[0]
		case 'C':
			h.Colorspace = val
		}
		if err != nil {
			return y4mHeader{}, fmt.Errorf("y4m header field %q: %w", f, err)
		}
	}
	if h.Width <= 0 || h.Height <= 0 {
		return y4mHeader{}, fmt.Errorf("y4m header missing dimensions")
	}
	if h.Colorspace != "" && !strings.HasPrefix(h.Colorspace, "420") {
		return y4mHeader{}, fmt.Errorf("unsupported y4m colorspace %s", h.Colorspace)
	}
	if !h.FrameRate.Valid() {
		return y4mHeader{}, fmt.Errorf("invalid y4m frame rate")
	}
	return h, nil
}

// readY4MFrame reads one FRAME record into dst, which must hold frameSize bytes.
func readY4MFrame(r *bufio.Reader, h y4mHeader, dst []byte) error {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return io.EOF
		}
		return fmt.Errorf("read y4m frame header: %w", err)
	}
	if !strings.HasPrefix(line, y4mFrame) {
		return fmt.Errorf("bad y4m frame marker %q", strings.TrimSpace(line))
	}
	if _, err := io.ReadFull(r, dst); err != nil {
		return fmt.Errorf("read y4m frame data: %w", err)
	}
	return nil
}

func writeY4MHeader(w io.Writer, h y4mHeader) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s W%d H%d F%d:%d I%c A%d:%d C420jpeg\n",
		y4mMagic, h.Width, h.Height, h.FrameRate.Num, h.FrameRate.Den, h.Interlace, h.PAR.Num, h.PAR.Den)
	_, err := w.Write(b.Bytes())
	return err
}

func writeY4MFrame(w io.Writer, data []byte) error {
	if _, err := io.WriteString(w, y4mFrame+"\n"); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func parseRatio(s string) (types.Rational, error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return types.Rational{}, fmt.Errorf("ratio %q", s)
	}
	num, err := strconv.Atoi(a)
	if err != nil {
		return types.Rational{}, err
	}
	den, err := strconv.Atoi(b)
	if err != nil {
		return types.Rational{}, err
	}
	return types.Rational{Num: num, Den: den}, nil
}

// framePTS returns the 90kHz timestamp of frame n at rate r.
func framePTS(n int64, r types.Rational) int64 {
	return n * types.TicksPerSecond * int64(r.Den) / int64(r.Num)
}
