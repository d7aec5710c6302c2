package works

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestY4M writes a clip whose frame n has every luma sample set to n.
func writeTestY4M(t *testing.T, path string, w, h, frames int, rate types.Rational) {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, writeY4MHeader(&b, y4mHeader{
		Width: w, Height: h, FrameRate: rate,
		PAR: types.Rational{Num: 1, Den: 1}, Interlace: 'p',
	}))
	for n := 0; n < frames; n++ {
		f := types.NewFrame(w, h)
		y, _, _ := f.Planes()
		for i := range y {
			y[i] = byte(n)
		}
		require.NoError(t, writeY4MFrame(&b, f.Data))
	}
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0644))
}

func TestY4MHeaderRoundTrip(t *testing.T) {
	var b bytes.Buffer
	in := y4mHeader{
		Width: 720, Height: 480,
		FrameRate: types.Rational{Num: 30000, Den: 1001},
		PAR:       types.Rational{Num: 8, Den: 9},
		Interlace: 't',
	}
	require.NoError(t, writeY4MHeader(&b, in))
	size := b.Len()

	out, err := readY4MHeader(bufio.NewReader(&b))
	require.NoError(t, err)
	assert.Equal(t, 720, out.Width)
	assert.Equal(t, 480, out.Height)
	assert.Equal(t, in.FrameRate, out.FrameRate)
	assert.Equal(t, in.PAR, out.PAR)
	assert.Equal(t, byte('t'), out.Interlace)
	assert.Equal(t, "420jpeg", out.Colorspace)
	assert.Equal(t, size, out.Size)
}

func TestY4MHeaderErrors(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"wrong magic", "MPEG W16 H16\n"},
		{"no size", "YUV4MPEG2 F25:1\n"},
		{"bad colorspace", "YUV4MPEG2 W16 H16 C444\n"},
		{"bad rate", "YUV4MPEG2 W16 H16 F25:0\n"},
		{"bad width", "YUV4MPEG2 Wx H16\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readY4MHeader(bufio.NewReader(bytes.NewBufferString(tt.header)))
			assert.Error(t, err)
		})
	}
}

func TestY4MReaderProbeAndStream(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.y4m")
	rate := types.Rational{Num: 24000, Den: 1001}
	writeTestY4M(t, path, 16, 8, 24, rate)

	obj := y4mReaderObject{}
	assert.True(t, obj.CanRead(path))
	assert.True(t, obj.CanRead(dir))
	assert.False(t, obj.CanRead(filepath.Join(dir, "missing.y4m")))

	r := obj.NewReader()
	ctx := context.Background()
	require.NoError(t, r.Open(ctx, path))
	assert.Equal(t, 1, r.TitleCount())
	assert.Equal(t, "clip", r.Name())

	title, err := r.Probe(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(24), title.FrameCount)
	assert.Equal(t, rate, title.FrameRate)
	assert.Equal(t, 16, title.Geometry.Width)
	assert.Equal(t, 8, title.Geometry.Height)
	assert.Equal(t, RawVideoCodec, title.VideoCodec)
	assert.Equal(t, 1001*time.Second/1000, title.Duration)
	assert.False(t, title.Interlaced)

	_, err = r.Probe(ctx, 2)
	assert.Error(t, err)

	s, err := r.Stream(ctx, title)
	require.NoError(t, err)
	defer s.Close()
	var n int64
	for {
		buf, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, n, buf.Sequence)
		assert.Equal(t, byte(n), buf.Data[0])
		assert.Equal(t, framePTS(n, rate), buf.PTS)
		n++
	}
	assert.Equal(t, int64(24), n)
}

func TestY4MReaderFrameSeeks(t *testing.T) {
	dir := t.TempDir()
	writeTestY4M(t, filepath.Join(dir, "b.y4m"), 8, 8, 10, types.Rational{Num: 10, Den: 1})
	writeTestY4M(t, filepath.Join(dir, "a.y4m"), 8, 8, 5, types.Rational{Num: 10, Den: 1})

	r := y4mReaderObject{}.NewReader()
	ctx := context.Background()
	require.NoError(t, r.Open(ctx, dir))
	require.Equal(t, 2, r.TitleCount())

	first, err := r.Probe(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", first.Name)

	buf, err := r.Frame(ctx, 2, 700*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, byte(7), buf.Data[0])
	assert.Equal(t, int64(7), buf.Sequence)
}

func TestRawDecoder(t *testing.T) {
	d := rawDecoderObject{}.NewStage()
	require.NoError(t, d.Init(&types.StageContext{
		Title: &types.Title{Geometry: types.Geometry{Width: 4, Height: 4}},
	}))

	out, err := d.Process(&types.Buffer{Kind: types.BufferPacket, Data: make([]byte, types.FrameSize(4, 4))})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, types.BufferFrame, out[0].Kind)
	assert.Equal(t, 4, out[0].Width)

	_, err = d.Process(&types.Buffer{Kind: types.BufferPacket, Data: make([]byte, 3)})
	assert.Error(t, err)

	out, err = d.Process(types.EOFBuffer())
	require.NoError(t, err)
	assert.True(t, out[0].EOF)

	assert.Error(t, rawDecoderObject{}.NewStage().Init(&types.StageContext{}))
}

func TestRawEncoderRejectsPackets(t *testing.T) {
	e := rawEncoderObject{}.NewStage()
	require.NoError(t, e.Init(&types.StageContext{
		Logger:    hclog.NewNullLogger(),
		FirstPass: &types.InterjobData{OutFrameCount: 10, VRate: types.Rational{Num: 25, Den: 1}},
	}))
	_, err := e.Process(&types.Buffer{Kind: types.BufferPacket})
	assert.Error(t, err)

	out, err := e.Process(types.NewFrame(2, 2))
	require.NoError(t, err)
	assert.Equal(t, types.BufferPacket, out[0].Kind)
}

func TestY4MMuxerWritesReadableFile(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out", "movie.y4m")
	m := y4mMuxerObject{}.NewStage()
	rate := types.Rational{Num: 25, Den: 1}
	require.NoError(t, m.Init(&types.StageContext{
		Destination: dest,
		FrameRate:   rate,
		Output:      types.Geometry{Width: 8, Height: 4, PAR: types.Rational{Num: 4, Den: 3}},
	}))
	for i := 0; i < 3; i++ {
		f := types.NewFrame(8, 4)
		f.Kind = types.BufferPacket
		_, err := m.Process(f)
		require.NoError(t, err)
	}
	_, err := m.Process(types.EOFBuffer())
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	r := y4mReaderObject{}.NewReader()
	require.NoError(t, r.Open(context.Background(), dest))
	title, err := r.Probe(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), title.FrameCount)
	assert.Equal(t, types.Rational{Num: 4, Den: 3}, title.Geometry.PAR)
}

func TestY4MMuxerNeedsDestination(t *testing.T) {
	assert.Error(t, y4mMuxerObject{}.NewStage().Init(&types.StageContext{}))
}

func TestTitleFromProbe(t *testing.T) {
	p := &probeOutput{}
	p.Format.Duration = "120.5"
	p.Streams = append(p.Streams,
		probeStream{CodecType: "video", CodecName: "mpeg2video", Width: 720, Height: 480, SampleAspect: "8:9", AvgFrameRate: "30000/1001", FieldOrder: "tt"},
	)
	title := titleFromProbe(p)
	assert.Equal(t, "mpeg2video", title.SourceCodec)
	assert.Equal(t, RawVideoCodec, title.VideoCodec)
	assert.Equal(t, types.Rational{Num: 8, Den: 9}, title.Geometry.PAR)
	assert.Equal(t, types.Rational{Num: 30000, Den: 1001}, title.FrameRate)
	assert.True(t, title.Interlaced)
	assert.Equal(t, 1, len(title.Chapters))
	assert.Equal(t, int64(3611), title.FrameCount)
}

func TestBuiltinsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, obj := range Builtins() {
		info := obj.Info()
		k := string(info.Kind) + "/" + info.ID
		assert.False(t, seen[k], k)
		seen[k] = true
	}
}
