package filters

import (
	"fmt"

	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// DeinterlaceMode selects the line reconstruction used by Deinterlace.
type DeinterlaceMode string

const (
	// DeinterlaceBob rebuilds odd lines from their even neighbours.
	DeinterlaceBob DeinterlaceMode = "bob"
	// DeinterlaceBlend low-passes every line with its vertical neighbours.
	DeinterlaceBlend DeinterlaceMode = "blend"
)

// Deinterlace returns a deinterlaced copy of a frame.
func Deinterlace(in *types.Buffer, mode DeinterlaceMode) *types.Buffer {
	out := in.Clone()
	y, cb, cr := in.Planes()
	oy, ocb, ocr := out.Planes()
	cw, ch := (in.Width+1)/2, (in.Height+1)/2

	deinterlacePlane(y, oy, in.Width, in.Height, mode)
	if cb != nil {
		deinterlacePlane(cb, ocb, cw, ch, mode)
		deinterlacePlane(cr, ocr, cw, ch, mode)
	}
	return out
}

func deinterlacePlane(src, dst []byte, width, height int, mode DeinterlaceMode) {
	if height < 3 {
		return
	}
	for row := 1; row < height-1; row++ {
		if mode == DeinterlaceBob && row%2 == 0 {
			continue
		}
		above := src[(row-1)*width : row*width]
		cur := src[row*width : (row+1)*width]
		below := src[(row+1)*width : (row+2)*width]
		line := dst[row*width : (row+1)*width]
		for x := 0; x < width; x++ {
			if mode == DeinterlaceBob {
				line[x] = byte((int(above[x]) + int(below[x]) + 1) / 2)
			} else {
				line[x] = byte((int(above[x]) + 2*int(cur[x]) + int(below[x]) + 2) / 4)
			}
		}
	}
}

type deinterlaceStage struct {
	mode DeinterlaceMode
	// onlyCombed restricts the filter to frames flagged by combdetect.
	onlyCombed bool
}

func (s *deinterlaceStage) Init(sc *types.StageContext) error {
	set, err := ParseSettings(sc.Settings)
	if err != nil {
		return err
	}
	s.mode = DeinterlaceMode(set.String("mode", string(DeinterlaceBob)))
	if s.mode != DeinterlaceBob && s.mode != DeinterlaceBlend {
		return fmt.Errorf("unknown deinterlace mode %q", s.mode)
	}
	_, s.onlyCombed = set["combed"]
	return nil
}

func (s *deinterlaceStage) Process(in *types.Buffer) ([]*types.Buffer, error) {
	if in.EOF {
		return nil, nil
	}
	if s.onlyCombed && !in.Combed {
		return []*types.Buffer{in}, nil
	}
	out := Deinterlace(in, s.mode)
	out.Combed = false
	return []*types.Buffer{out}, nil
}

func (s *deinterlaceStage) Close() error { return nil }
