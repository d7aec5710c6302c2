package filters

import "github.com/mantonx/encore/internal/modules/enginemodule/types"

type grayscaleStage struct{}

func (grayscaleStage) Init(*types.StageContext) error { return nil }

func (grayscaleStage) Process(in *types.Buffer) ([]*types.Buffer, error) {
	if in.EOF {
		return nil, nil
	}
	_, cb, cr := in.Planes()
	for i := range cb {
		cb[i] = 128
		cr[i] = 128
	}
	return []*types.Buffer{in}, nil
}

func (grayscaleStage) Close() error { return nil }
