package types

// AnamorphicMode selects how output dimensions and pixel aspect are derived
// from the source.
type AnamorphicMode int

const (
	// AnamorphicNone outputs square pixels, scaling height to keep the display aspect.
	AnamorphicNone AnamorphicMode = iota
	// AnamorphicStrict keeps the cropped source storage size and its pixel aspect.
	AnamorphicStrict
	// AnamorphicLoose scales to the requested width and adjusts pixel aspect.
	AnamorphicLoose
	// AnamorphicCustom uses the requested size and pixel aspect as given.
	AnamorphicCustom
	// AnamorphicAuto fits the largest size within the max bounds.
	AnamorphicAuto
)

var anamorphicNames = map[AnamorphicMode]string{
	AnamorphicNone:   "none",
	AnamorphicStrict: "strict",
	AnamorphicLoose:  "loose",
	AnamorphicCustom: "custom",
	AnamorphicAuto:   "auto",
}

func (m AnamorphicMode) String() string {
	if s, ok := anamorphicNames[m]; ok {
		return s
	}
	return "unknown"
}

// ParseAnamorphicMode maps a mode name to its value.
func ParseAnamorphicMode(s string) (AnamorphicMode, bool) {
	for m, name := range anamorphicNames {
		if name == s {
			return m, true
		}
	}
	return AnamorphicNone, false
}

// Keep flags constrain which dimension is held fixed.
const (
	KeepWidth = 1 << iota
	KeepHeight
	KeepDisplayAspect
)

// Crop edges, indexed into GeometrySettings.Crop.
const (
	CropTop = iota
	CropBottom
	CropLeft
	CropRight
)

// Geometry is a storage size plus pixel aspect ratio.
type Geometry struct {
	Width  int      `json:"width"`
	Height int      `json:"height"`
	PAR    Rational `json:"par"`
}

// DisplayWidth is the width the frame occupies once the pixel aspect is applied.
func (g Geometry) DisplayWidth() int {
	if !g.PAR.Valid() {
		return g.Width
	}
	return int(int64(g.Width) * int64(g.PAR.Num) / int64(g.PAR.Den))
}

// GeometrySettings are the caller's requested output constraints.
type GeometrySettings struct {
	Mode      AnamorphicMode `json:"mode"`
	Keep      int            `json:"keep"`
	ITUPAR    bool           `json:"itu_par"`
	Modulus   int            `json:"modulus"`
	MaxWidth  int            `json:"max_width"`
	MaxHeight int            `json:"max_height"`
	Crop      [4]int         `json:"crop"`
	Geometry  Geometry       `json:"geometry"`
}
