package filters

import "github.com/mantonx/encore/internal/modules/enginemodule/types"

// Filter ids, in canonical chain order.
const (
	IDCombDetect  = "combdetect"
	IDDeinterlace = "deinterlace"
	IDGrayscale   = "grayscale"
	IDCropScale   = "cropscale"
)

type filterObject struct {
	info    types.Info
	factory func() types.Stage
}

func (f filterObject) Info() types.Info      { return f.info }
func (f filterObject) NewStage() types.Stage { return f.factory() }

// Builtins returns the built-in filter work objects.
func Builtins() []types.WorkObject {
	return []types.WorkObject{
		filterObject{
			info:    types.Info{ID: IDCombDetect, Name: "Comb Detect", Kind: types.KindFilter, Order: 10},
			factory: func() types.Stage { return &combStage{} },
		},
		filterObject{
			info:    types.Info{ID: IDDeinterlace, Name: "Deinterlace", Kind: types.KindFilter, Order: 20},
			factory: func() types.Stage { return &deinterlaceStage{} },
		},
		filterObject{
			info:    types.Info{ID: IDGrayscale, Name: "Grayscale", Kind: types.KindFilter, Order: 30},
			factory: func() types.Stage { return grayscaleStage{} },
		},
		filterObject{
			info:    types.Info{ID: IDCropScale, Name: "Crop and Scale", Kind: types.KindFilter, Order: 40},
			factory: func() types.Stage { return &cropScaleStage{} },
		},
	}
}
