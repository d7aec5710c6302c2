package preview

import "github.com/mantonx/encore/internal/modules/enginemodule/types"

// SetAnamorphicSize computes the output geometry for a source geometry and
// the requested settings. It is a pure function using integer arithmetic
// only, so identical inputs always produce identical results.
func SetAnamorphicSize(src types.Geometry, s types.GeometrySettings) types.Geometry {
	mod := s.Modulus
	if mod <= 0 {
		mod = 2
	}

	cw := src.Width - s.Crop[types.CropLeft] - s.Crop[types.CropRight]
	ch := src.Height - s.Crop[types.CropTop] - s.Crop[types.CropBottom]
	if cw < mod {
		cw = mod
	}
	if ch < mod {
		ch = mod
	}

	par := src.PAR
	if !par.Valid() {
		par = types.Rational{Num: 1, Den: 1}
	}
	if s.ITUPAR {
		par = ituPAR(src, par)
	}
	par = par.Reduce()

	maxW, maxH := s.MaxWidth, s.MaxHeight

	// display aspect of the cropped source
	darNum := int64(cw) * int64(par.Num)
	darDen := int64(ch) * int64(par.Den)

	var w, h int
	out := types.Rational{Num: 1, Den: 1}

	switch s.Mode {
	case types.AnamorphicStrict:
		w, h = roundMod(cw, 2), roundMod(ch, 2)
		out = par

	case types.AnamorphicLoose:
		w = pick(s.Geometry.Width, cw)
		if w > cw {
			w = cw
		}
		w = clampMod(w, maxW, mod)
		h = roundMod(int(int64(w)*int64(ch)/int64(cw)), mod)
		if maxH > 0 && h > maxH {
			h = floorMod(maxH, mod)
			w = roundMod(int(int64(h)*int64(cw)/int64(ch)), mod)
		}
		out = types.ReduceInt64(darNum*int64(h), darDen*int64(w))

	case types.AnamorphicCustom:
		w = clampMod(pick(s.Geometry.Width, cw), maxW, mod)
		h = clampMod(pick(s.Geometry.Height, ch), maxH, mod)
		if s.Keep&types.KeepDisplayAspect != 0 || !s.Geometry.PAR.Valid() {
			out = types.ReduceInt64(darNum*int64(h), darDen*int64(w))
		} else {
			out = s.Geometry.PAR.Reduce()
		}

	case types.AnamorphicAuto:
		w, h = cw, ch
		if maxW > 0 && w > maxW {
			h = int(int64(h) * int64(maxW) / int64(w))
			w = maxW
		}
		if maxH > 0 && h > maxH {
			w = int(int64(w) * int64(maxH) / int64(h))
			h = maxH
		}
		w, h = roundMod(w, mod), roundMod(h, mod)
		out = types.ReduceInt64(darNum*int64(h), darDen*int64(w))

	default:
		// square pixels, one side derived from the display aspect
		if s.Keep&types.KeepHeight != 0 && s.Geometry.Height > 0 {
			h = clampMod(s.Geometry.Height, maxH, mod)
			w = roundMod(int(int64(h)*darNum/darDen), mod)
		} else {
			w = clampMod(pick(s.Geometry.Width, int(int64(ch)*darNum/darDen)), maxW, mod)
			if s.Keep&types.KeepDisplayAspect != 0 || s.Geometry.Height <= 0 {
				h = roundMod(int(int64(w)*darDen/darNum), mod)
			} else {
				h = s.Geometry.Height
			}
		}
		if maxH > 0 && h > maxH {
			h = floorMod(maxH, mod)
			w = roundMod(int(int64(h)*darNum/darDen), mod)
		}
		if maxW > 0 && w > maxW {
			w = floorMod(maxW, mod)
		}
		h = roundMod(h, mod)
	}

	return types.Geometry{Width: w, Height: h, PAR: out}
}

// ituPAR maps the generic DVD pixel aspects to their ITU-R BT.601 values.
func ituPAR(src types.Geometry, par types.Rational) types.Rational {
	if src.Width != 720 && src.Width != 704 {
		return par
	}
	r := par.Reduce()
	switch {
	case src.Height == 480 && r == (types.Rational{Num: 8, Den: 9}):
		return types.Rational{Num: 10, Den: 11}
	case src.Height == 480 && r == (types.Rational{Num: 32, Den: 27}):
		return types.Rational{Num: 40, Den: 33}
	case src.Height == 576 && r == (types.Rational{Num: 16, Den: 15}):
		return types.Rational{Num: 12, Den: 11}
	case src.Height == 576 && r == (types.Rational{Num: 64, Den: 45}):
		return types.Rational{Num: 16, Den: 11}
	}
	return par
}

func pick(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func roundMod(v, mod int) int {
	r := (v + mod/2) / mod * mod
	if r < mod {
		return mod
	}
	return r
}

func floorMod(v, mod int) int {
	r := v / mod * mod
	if r < mod {
		return mod
	}
	return r
}

func clampMod(v, max, mod int) int {
	if max > 0 && v > max {
		return floorMod(max, mod)
	}
	return roundMod(v, mod)
}
