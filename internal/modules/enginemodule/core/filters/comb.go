package filters

import (
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// CombParams are the comb detection thresholds. The Prog* values replace
// the regular ones when the frame is known to be progressive.
type CombParams struct {
	ColorEqual    int
	ColorDiff     int
	Threshold     int
	ProgEqual     int
	ProgDiff      int
	ProgThreshold int
	Progressive   bool
}

// DefaultCombParams are the thresholds the scanner uses on previews.
func DefaultCombParams() CombParams {
	return CombParams{
		ColorEqual:    10,
		ColorDiff:     30,
		Threshold:     9,
		ProgEqual:     10,
		ProgDiff:      30,
		ProgThreshold: 9,
	}
}

// DetectComb reports whether a frame shows interlacing artifacts.
//
// Each plane is walked in groups of four lines. A pixel counts as combed when
// lines one and three match while lines one and two differ (and likewise for
// lines two to four). The per-plane score is combed pixels per thousand, and
// the weighted 4:2:0 average is compared against the threshold.
func DetectComb(buf *types.Buffer, p CombParams) bool {
	if buf == nil || buf.Width < 1 || buf.Height < 5 {
		return false
	}
	equal, diff, threshold := p.ColorEqual, p.ColorDiff, p.Threshold
	if p.Progressive {
		equal, diff, threshold = p.ProgEqual, p.ProgDiff, p.ProgThreshold
	}

	y, cb, cr := buf.Planes()
	cw, ch := (buf.Width+1)/2, (buf.Height+1)/2
	planes := []struct {
		data          []byte
		width, height int
	}{
		{y, buf.Width, buf.Height},
		{cb, cw, ch},
		{cr, cw, ch},
	}

	var cc [3]int
	for k, pl := range planes {
		if len(pl.data) < pl.width*pl.height || pl.height < 5 {
			continue
		}
		combed := 0
		stride := pl.width
		for j := 0; j < pl.width; j++ {
			off := 0
			for n := 0; n < pl.height-4; n += 2 {
				s1 := int(pl.data[off+j])
				s2 := int(pl.data[off+j+stride])
				s3 := int(pl.data[off+j+2*stride])
				s4 := int(pl.data[off+j+3*stride])

				if abs(s1-s3) < equal && abs(s1-s2) > diff {
					combed++
				}
				if abs(s2-s4) < equal && abs(s2-s3) > diff {
					combed++
				}
				off += 2 * stride
			}
		}
		cc[k] = combed * 1000 / (pl.width * pl.height)
	}

	average := (2*cc[0] + cc[1]/2 + cc[2]/2) / 3
	return average > threshold
}

// combStage tags each frame with the comb verdict and passes it on.
type combStage struct {
	params CombParams
	combed int64
	frames int64
	sc     *types.StageContext
}

func (s *combStage) Init(sc *types.StageContext) error {
	set, err := ParseSettings(sc.Settings)
	if err != nil {
		return err
	}
	p := DefaultCombParams()
	for key, dst := range map[string]*int{
		"color_equal":    &p.ColorEqual,
		"color_diff":     &p.ColorDiff,
		"threshold":      &p.Threshold,
		"prog_equal":     &p.ProgEqual,
		"prog_diff":      &p.ProgDiff,
		"prog_threshold": &p.ProgThreshold,
	} {
		if *dst, err = set.Int(key, *dst); err != nil {
			return err
		}
	}
	p.Progressive = set.String("mode", "") == "progressive"
	s.params = p
	s.sc = sc
	return nil
}

func (s *combStage) Process(in *types.Buffer) ([]*types.Buffer, error) {
	if in.EOF {
		if s.sc != nil && s.sc.Logger != nil && s.frames > 0 {
			s.sc.Logger.Debug("comb detection summary", "frames", s.frames, "combed", s.combed)
		}
		return nil, nil
	}
	s.frames++
	in.Combed = DetectComb(in, s.params)
	if in.Combed {
		s.combed++
	}
	return []*types.Buffer{in}, nil
}

func (s *combStage) Close() error { return nil }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
