package scanner

import "github.com/mantonx/encore/internal/modules/enginemodule/types"

const (
	blackAvg = 24
	blackMax = 48
)

// DetectCrop measures the black borders of a frame. The result is indexed by
// types.CropTop, CropBottom, CropLeft and CropRight and rounded down to even
// values. At most a quarter of each dimension is cropped per side.
func DetectCrop(f *types.Buffer) [4]int {
	var crop [4]int
	y, _, _ := f.Planes()
	w, h := f.Width, f.Height
	if len(y) < w*h || w == 0 || h == 0 {
		return crop
	}

	rowBlack := func(r int) bool {
		return isBlack(y[r*w:(r+1)*w], 1)
	}
	colBlack := func(c int) bool {
		return isBlack(y[c:], w)
	}

	for crop[types.CropTop] < h/4 && rowBlack(crop[types.CropTop]) {
		crop[types.CropTop]++
	}
	for crop[types.CropBottom] < h/4 && rowBlack(h-1-crop[types.CropBottom]) {
		crop[types.CropBottom]++
	}
	for crop[types.CropLeft] < w/4 && colBlack(crop[types.CropLeft]) {
		crop[types.CropLeft]++
	}
	for crop[types.CropRight] < w/4 && colBlack(w-1-crop[types.CropRight]) {
		crop[types.CropRight]++
	}
	for i := range crop {
		crop[i] &^= 1
	}
	return crop
}

// isBlack reports whether the samples at 0, stride, 2*stride... are dark.
func isBlack(p []byte, stride int) bool {
	var sum, n int
	for i := 0; i < len(p); i += stride {
		v := int(p[i])
		if v > blackMax {
			return false
		}
		sum += v
		n++
	}
	return n > 0 && sum/n < blackAvg
}
