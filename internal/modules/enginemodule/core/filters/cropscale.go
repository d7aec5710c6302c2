package filters

import (
	"image"

	"github.com/mantonx/encore/internal/modules/enginemodule/types"
	"golang.org/x/image/draw"
)

// CropScale crops a frame by crop (top, bottom, left, right) and resizes it
// to width×height with bilinear interpolation, plane by plane.
func CropScale(in *types.Buffer, crop [4]int, width, height int) *types.Buffer {
	cw := in.Width - crop[types.CropLeft] - crop[types.CropRight]
	ch := in.Height - crop[types.CropTop] - crop[types.CropBottom]
	if cw < 1 || ch < 1 {
		cw, ch = in.Width, in.Height
		crop = [4]int{}
	}
	if width <= 0 || height <= 0 {
		width, height = cw, ch
	}
	if cw == in.Width && ch == in.Height && width == in.Width && height == in.Height {
		return in
	}

	out := types.NewFrame(width, height)
	out.Kind, out.PTS, out.Duration, out.Sequence, out.Combed = in.Kind, in.PTS, in.Duration, in.Sequence, in.Combed

	y, cb, cr := in.Planes()
	oy, ocb, ocr := out.Planes()

	srcRect := image.Rect(crop[types.CropLeft], crop[types.CropTop], crop[types.CropLeft]+cw, crop[types.CropTop]+ch)
	scalePlane(oy, width, height, y, in.Width, in.Height, srcRect)

	if cb != nil {
		icw, ich := (in.Width+1)/2, (in.Height+1)/2
		ocw, och := (width+1)/2, (height+1)/2
		cRect := image.Rect(srcRect.Min.X/2, srcRect.Min.Y/2, (srcRect.Max.X+1)/2, (srcRect.Max.Y+1)/2)
		scalePlane(ocb, ocw, och, cb, icw, ich, cRect)
		scalePlane(ocr, ocw, och, cr, icw, ich, cRect)
	}
	return out
}

func scalePlane(dst []byte, dw, dh int, src []byte, sw, sh int, srcRect image.Rectangle) {
	s := &image.Gray{Pix: src, Stride: sw, Rect: image.Rect(0, 0, sw, sh)}
	d := &image.Gray{Pix: dst, Stride: dw, Rect: image.Rect(0, 0, dw, dh)}
	draw.BiLinear.Scale(d, d.Bounds(), s, srcRect, draw.Src, nil)
}

// cropScaleStage resizes frames to the job's output geometry.
type cropScaleStage struct {
	crop          [4]int
	width, height int
}

func (s *cropScaleStage) Init(sc *types.StageContext) error {
	set, err := ParseSettings(sc.Settings)
	if err != nil {
		return err
	}
	if sc.Job != nil {
		s.crop = sc.Job.Geometry.Crop
	}
	for i, key := range []string{"crop_top", "crop_bottom", "crop_left", "crop_right"} {
		if s.crop[i], err = set.Int(key, s.crop[i]); err != nil {
			return err
		}
	}
	if s.width, err = set.Int("width", sc.Output.Width); err != nil {
		return err
	}
	if s.height, err = set.Int("height", sc.Output.Height); err != nil {
		return err
	}
	return nil
}

func (s *cropScaleStage) Process(in *types.Buffer) ([]*types.Buffer, error) {
	if in.EOF {
		return nil, nil
	}
	return []*types.Buffer{CropScale(in, s.crop, s.width, s.height)}, nil
}

func (s *cropScaleStage) Close() error { return nil }
