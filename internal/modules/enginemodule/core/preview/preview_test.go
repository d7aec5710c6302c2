package preview

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(w, h int, seed byte) *types.Buffer {
	f := types.NewFrame(w, h)
	for i := range f.Data {
		f.Data[i] = seed + byte(i%7)
	}
	f.PTS = 90000
	return f
}

func TestMemoryStore_SaveLoad(t *testing.T) {
	s := NewMemoryStore()
	buf := testFrame(16, 8, 3)

	require.NoError(t, s.Save(1, 0, buf))
	got, err := s.Load(1, 0)
	require.NoError(t, err)
	assert.Equal(t, buf, got)

	// the cache holds its own copy
	buf.Data[0] = 99
	got, err = s.Load(1, 0)
	require.NoError(t, err)
	assert.NotEqual(t, byte(99), got.Data[0])

	_, err = s.Load(1, 1)
	assert.True(t, errors.Is(err, eErrors.ErrPreviewNotCached))

	require.NoError(t, s.Clear())
	_, err = s.Load(1, 0)
	assert.True(t, errors.Is(err, eErrors.ErrPreviewNotCached))
}

func TestDiskStore_SaveLoad(t *testing.T) {
	s, err := NewDiskStore(t.TempDir(), hclog.NewNullLogger())
	require.NoError(t, err)

	buf := testFrame(16, 8, 11)
	buf.Duration = 3003
	buf.Sequence = 7
	buf.Combed = true
	require.NoError(t, s.Save(2, 3, buf))

	got, err := s.Load(2, 3)
	require.NoError(t, err)
	assert.Equal(t, buf, got)

	packet := &types.Buffer{Kind: types.BufferPacket, Data: []byte{1, 2, 3}, PTS: 12, Duration: 40}
	require.NoError(t, s.Save(2, 5, packet))
	got, err = s.Load(2, 5)
	require.NoError(t, err)
	assert.Equal(t, packet, got)

	_, err = s.Load(2, 4)
	assert.True(t, errors.Is(err, eErrors.ErrPreviewNotCached))

	require.NoError(t, s.Clear())
	_, err = s.Load(2, 3)
	assert.True(t, errors.Is(err, eErrors.ErrPreviewNotCached))
}

func TestSetAnamorphicSize_Strict(t *testing.T) {
	src := types.Geometry{Width: 720, Height: 480, PAR: types.Rational{Num: 32, Den: 27}}
	got := SetAnamorphicSize(src, types.GeometrySettings{Mode: types.AnamorphicStrict, Crop: [4]int{2, 2, 8, 8}})
	assert.Equal(t, types.Geometry{Width: 704, Height: 476, PAR: types.Rational{Num: 32, Den: 27}}, got)
}

func TestSetAnamorphicSize_None(t *testing.T) {
	src := types.Geometry{Width: 720, Height: 480, PAR: types.Rational{Num: 32, Den: 27}}
	got := SetAnamorphicSize(src, types.GeometrySettings{
		Mode:     types.AnamorphicNone,
		Keep:     types.KeepDisplayAspect,
		Modulus:  16,
		Geometry: types.Geometry{Width: 720},
	})
	// 720 * (480*27) / (720*32) = 405, rounded to mod 16
	assert.Equal(t, types.Geometry{Width: 720, Height: 400, PAR: types.Rational{Num: 1, Den: 1}}, got)
}

func TestSetAnamorphicSize_Loose(t *testing.T) {
	src := types.Geometry{Width: 1920, Height: 1080, PAR: types.Rational{Num: 1, Den: 1}}
	got := SetAnamorphicSize(src, types.GeometrySettings{
		Mode:     types.AnamorphicLoose,
		Modulus:  2,
		Geometry: types.Geometry{Width: 1280},
	})
	assert.Equal(t, 1280, got.Width)
	assert.Equal(t, 720, got.Height)
	assert.Equal(t, types.Rational{Num: 1, Den: 1}, got.PAR)
}

func TestSetAnamorphicSize_CustomKeepsDisplayAspect(t *testing.T) {
	src := types.Geometry{Width: 1920, Height: 1080, PAR: types.Rational{Num: 1, Den: 1}}
	got := SetAnamorphicSize(src, types.GeometrySettings{
		Mode:     types.AnamorphicCustom,
		Keep:     types.KeepDisplayAspect,
		Geometry: types.Geometry{Width: 1440, Height: 1080},
	})
	assert.Equal(t, 1440, got.Width)
	assert.Equal(t, 1080, got.Height)
	// 1440 storage pixels stretched back to 1920
	assert.Equal(t, types.Rational{Num: 4, Den: 3}, got.PAR)
	assert.Equal(t, 1920, got.DisplayWidth())
}

func TestSetAnamorphicSize_AutoRespectsMax(t *testing.T) {
	src := types.Geometry{Width: 1920, Height: 1080, PAR: types.Rational{Num: 1, Den: 1}}
	got := SetAnamorphicSize(src, types.GeometrySettings{Mode: types.AnamorphicAuto, MaxWidth: 960})
	assert.Equal(t, 960, got.Width)
	assert.Equal(t, 540, got.Height)
}

func TestSetAnamorphicSize_ITUPAR(t *testing.T) {
	src := types.Geometry{Width: 720, Height: 480, PAR: types.Rational{Num: 8, Den: 9}}
	got := SetAnamorphicSize(src, types.GeometrySettings{Mode: types.AnamorphicStrict, ITUPAR: true})
	assert.Equal(t, types.Rational{Num: 10, Den: 11}, got.PAR)
}

func TestSetAnamorphicSize_Pure(t *testing.T) {
	src := types.Geometry{Width: 720, Height: 576, PAR: types.Rational{Num: 64, Den: 45}}
	settings := []types.GeometrySettings{
		{Mode: types.AnamorphicLoose, Modulus: 16, Geometry: types.Geometry{Width: 640}},
		{Mode: types.AnamorphicNone, MaxWidth: 640, MaxHeight: 360},
		{Mode: types.AnamorphicCustom, Geometry: types.Geometry{Width: 500, Height: 300, PAR: types.Rational{Num: 3, Den: 2}}},
		{Mode: types.AnamorphicAuto, MaxHeight: 288, Crop: [4]int{4, 4, 10, 10}},
	}

	first := make([]types.Geometry, len(settings))
	for i, s := range settings {
		first[i] = SetAnamorphicSize(src, s)
	}
	// reverse order, repeated: results never depend on prior calls
	for round := 0; round < 3; round++ {
		for i := len(settings) - 1; i >= 0; i-- {
			assert.Equal(t, first[i], SetAnamorphicSize(src, settings[i]))
		}
	}
}

func TestGenerator_ImageFromCache(t *testing.T) {
	g := NewGenerator(NewMemoryStore(), nil, hclog.NewNullLogger())
	title := &types.Title{Index: 1, Previews: 2, Geometry: types.Geometry{Width: 32, Height: 16, PAR: types.Rational{Num: 1, Den: 1}}}
	require.NoError(t, g.Save(1, 1, testFrame(32, 16, 0)))

	img, err := g.Image(context.Background(), title, 1, types.GeometrySettings{
		Mode:     types.AnamorphicNone,
		Keep:     types.KeepDisplayAspect,
		Geometry: types.Geometry{Width: 16},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Geometry.Width)
	assert.Equal(t, 8, img.Geometry.Height)
	assert.Equal(t, 16, img.Pix.Bounds().Dx())
	assert.Equal(t, 8, img.Pix.Bounds().Dy())
}

func TestGenerator_Errors(t *testing.T) {
	title := &types.Title{Index: 1, Previews: 2, Duration: 10 * time.Second}
	failing := func(ctx context.Context, title *types.Title, index, count int) (*types.Buffer, error) {
		return nil, errors.New("corrupt packet")
	}
	g := NewGenerator(NewMemoryStore(), failing, hclog.NewNullLogger())

	_, err := g.Image(context.Background(), title, 2, types.GeometrySettings{}, false)
	assert.True(t, errors.Is(err, eErrors.ErrPreviewOutOfRange))
	assert.False(t, errors.Is(err, eErrors.ErrDecodeFailed))

	_, err = g.Image(context.Background(), title, -1, types.GeometrySettings{}, false)
	assert.True(t, errors.Is(err, eErrors.ErrPreviewOutOfRange))

	_, err = g.Image(context.Background(), title, 0, types.GeometrySettings{}, false)
	assert.True(t, errors.Is(err, eErrors.ErrDecodeFailed))
	assert.False(t, errors.Is(err, eErrors.ErrPreviewOutOfRange))

	_, err = g.Image(context.Background(), nil, 0, types.GeometrySettings{}, false)
	assert.True(t, errors.Is(err, eErrors.ErrTitleNotFound))
}

func TestGenerator_DecodesAndCaches(t *testing.T) {
	calls := 0
	source := func(ctx context.Context, title *types.Title, index, count int) (*types.Buffer, error) {
		calls++
		return testFrame(8, 8, byte(index)), nil
	}
	g := NewGenerator(NewMemoryStore(), source, hclog.NewNullLogger())
	title := &types.Title{Index: 4, Previews: 3}

	first, err := g.Frame(context.Background(), title, 2)
	require.NoError(t, err)
	second, err := g.Frame(context.Background(), title, 2)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	cached, err := g.Read(title, 2)
	require.NoError(t, err)
	assert.Equal(t, first.Data, cached.Data)
}

func TestEncodeWebP(t *testing.T) {
	img := Render(testFrame(16, 16, 40), [4]int{}, types.Geometry{Width: 16, Height: 16})
	data, err := EncodeWebP(img, 80)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))

	_, err = EncodeWebP(nil, 80)
	assert.Error(t, err)
}
