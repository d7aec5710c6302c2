package filters

import (
	"testing"

	"github.com/mantonx/encore/internal/modules/enginemodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stripedFrame returns a frame whose luma rows alternate between 16 and 235.
func stripedFrame(w, h int) *types.Buffer {
	f := types.NewFrame(w, h)
	y, _, _ := f.Planes()
	for row := 0; row < h; row++ {
		v := byte(16)
		if row%2 == 1 {
			v = 235
		}
		for x := 0; x < w; x++ {
			y[row*w+x] = v
		}
	}
	return f
}

func flatFrame(w, h int, v byte) *types.Buffer {
	f := types.NewFrame(w, h)
	y, _, _ := f.Planes()
	for i := range y {
		y[i] = v
	}
	return f
}

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings("mode=blend: threshold=12 :combed")
	require.NoError(t, err)
	assert.Equal(t, "blend", s.String("mode", "bob"))
	n, err := s.Int("threshold", 9)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	_, ok := s["combed"]
	assert.True(t, ok)

	n, err = s.Int("missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = ParseSettings("=3")
	assert.Error(t, err)

	bad, err := ParseSettings("threshold=abc")
	require.NoError(t, err)
	_, err = bad.Int("threshold", 0)
	assert.Error(t, err)
}

func TestDetectComb(t *testing.T) {
	assert.True(t, DetectComb(stripedFrame(32, 16), DefaultCombParams()))
	assert.False(t, DetectComb(flatFrame(32, 16, 120), DefaultCombParams()))
	assert.False(t, DetectComb(nil, DefaultCombParams()))
	assert.False(t, DetectComb(stripedFrame(32, 4), DefaultCombParams()))

	strict := DefaultCombParams()
	strict.Progressive = true
	strict.ProgThreshold = 1000
	assert.False(t, DetectComb(stripedFrame(32, 16), strict))
}

func TestDeinterlaceRemovesCombing(t *testing.T) {
	in := stripedFrame(32, 16)
	for _, mode := range []DeinterlaceMode{DeinterlaceBob, DeinterlaceBlend} {
		out := Deinterlace(in, mode)
		assert.False(t, DetectComb(out, DefaultCombParams()), "mode %s", mode)
		assert.NotSame(t, in, out)
	}
	// source is untouched
	y, _, _ := in.Planes()
	assert.Equal(t, byte(235), y[32])
}

func TestDeinterlaceStageOnlyCombed(t *testing.T) {
	st := &deinterlaceStage{}
	require.NoError(t, st.Init(&types.StageContext{Settings: "mode=bob:combed"}))

	plain := stripedFrame(16, 8)
	out, err := st.Process(plain)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Same(t, plain, out[0])

	flagged := stripedFrame(16, 8)
	flagged.Combed = true
	out, err = st.Process(flagged)
	require.NoError(t, err)
	assert.NotSame(t, flagged, out[0])
	assert.False(t, out[0].Combed)

	assert.Error(t, (&deinterlaceStage{}).Init(&types.StageContext{Settings: "mode=yadif"}))
}

func TestCombStageTagsFrames(t *testing.T) {
	st := &combStage{}
	require.NoError(t, st.Init(&types.StageContext{Settings: "threshold=5"}))
	out, err := st.Process(stripedFrame(32, 16))
	require.NoError(t, err)
	assert.True(t, out[0].Combed)
	out, err = st.Process(types.EOFBuffer())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGrayscale(t *testing.T) {
	f := types.NewFrame(4, 4)
	_, cb, cr := f.Planes()
	cb[0], cr[0] = 10, 240
	out, err := grayscaleStage{}.Process(f)
	require.NoError(t, err)
	_, cb, cr = out[0].Planes()
	assert.Equal(t, byte(128), cb[0])
	assert.Equal(t, byte(128), cr[0])
}

func TestCropScale(t *testing.T) {
	in := types.NewFrame(8, 8)
	y, _, _ := in.Planes()
	for row := 0; row < 8; row++ {
		for x := 0; x < 8; x++ {
			y[row*8+x] = byte(x * 10)
		}
	}

	out := CropScale(in, [4]int{0, 0, 2, 2}, 0, 0)
	assert.Equal(t, 4, out.Width)
	assert.Equal(t, 8, out.Height)
	oy, _, _ := out.Planes()
	assert.InDelta(t, 20, int(oy[0]), 1)
	assert.InDelta(t, 50, int(oy[3]), 1)

	scaled := CropScale(in, [4]int{}, 4, 4)
	assert.Equal(t, 4, scaled.Width)
	assert.Equal(t, 4, scaled.Height)
	assert.Len(t, scaled.Data, types.FrameSize(4, 4))

	assert.Same(t, in, CropScale(in, [4]int{}, 8, 8))
}

func TestBuiltinsOrder(t *testing.T) {
	objs := Builtins()
	require.Len(t, objs, 4)
	prev := -1
	for _, o := range objs {
		assert.Equal(t, types.KindFilter, o.Info().Kind)
		assert.Greater(t, o.Info().Order, prev)
		prev = o.Info().Order
	}
}
