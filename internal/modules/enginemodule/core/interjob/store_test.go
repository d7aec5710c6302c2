package interjob

import (
	"testing"

	"github.com/mantonx/encore/internal/modules/enginemodule/types"
	"github.com/stretchr/testify/assert"
)

func TestGetIsLazyAndZero(t *testing.T) {
	s := New()
	assert.Equal(t, types.InterjobData{}, s.Get())
}

func TestTwoPassStatisticsCarryOver(t *testing.T) {
	s := New()
	rate := types.Rational{Num: 24000, Den: 1001}
	first := types.NewSequenceID(7, types.PassFirst)
	second := types.NewSequenceID(7, types.PassSecond)

	s.Record(first, 1200, 1200, 4504500, rate)

	d := s.Get()
	assert.True(t, d.FirstPassFor(second))
	assert.Equal(t, int64(1200), d.FrameCount)
	assert.Equal(t, rate, d.VRate)
	assert.False(t, d.FirstPassFor(types.NewSequenceID(8, types.PassSecond)))

	s.Record(second, 1190, 1190, 4466962, types.Rational{Num: 25, Den: 1})
	d = s.Get()
	assert.Equal(t, second, d.LastJob)
	assert.Equal(t, int64(1190), d.FrameCount)
	assert.Equal(t, types.Rational{Num: 25, Den: 1}, d.VRate)
	assert.False(t, d.FirstPassFor(second))
}

func TestSubtitleSelection(t *testing.T) {
	s := New()
	scan := types.NewSequenceID(3, types.PassSubtitleScan)
	s.SetSubtitle(scan, &types.SubtitleTrack{Index: 2, Language: "eng"})

	got := s.Get()
	if assert.NotNil(t, got.SelectSubtitle) {
		got.SelectSubtitle.Index = 99
	}
	assert.Equal(t, 2, s.Get().SelectSubtitle.Index)

	s.Record(types.NewSequenceID(3, types.PassSingle), 10, 10, 900, types.Rational{Num: 25, Den: 1})
	assert.NotNil(t, s.Get().SelectSubtitle)

	s.Record(types.NewSequenceID(4, types.PassSingle), 10, 10, 900, types.Rational{Num: 25, Den: 1})
	assert.Nil(t, s.Get().SelectSubtitle)
}

func TestReset(t *testing.T) {
	s := New()
	s.Record(types.NewSequenceID(1, types.PassFirst), 1, 1, 1, types.Rational{Num: 1, Den: 1})
	s.Reset()
	assert.Equal(t, types.InterjobData{}, s.Get())
}
