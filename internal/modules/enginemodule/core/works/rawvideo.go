package works

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

const (
	// RawVideoCodec is the codec of planar 4:2:0 packets produced by the
	// built-in readers.
	RawVideoCodec = "rawvideo"

	RawDecoderID = "rawvideo"
	RawEncoderID = "rawvideo"
)

type rawDecoderObject struct{}

func (rawDecoderObject) Info() types.Info {
	return types.Info{ID: RawDecoderID, Name: "Raw video decoder", Kind: types.KindDecoder, Codecs: []string{RawVideoCodec}}
}

func (rawDecoderObject) NewStage() types.Stage { return &rawDecoder{} }

// rawDecoder turns raw packets into frames after checking their size.
type rawDecoder struct {
	width, height int
}

func (d *rawDecoder) Init(sc *types.StageContext) error {
	if sc.Title == nil {
		return eErrors.PipelineError("decoder_init", eErrors.ErrInvalidInput).WithDetail("reason", "no title")
	}
	d.width, d.height = sc.Title.Geometry.Width, sc.Title.Geometry.Height
	return nil
}

func (d *rawDecoder) Process(in *types.Buffer) ([]*types.Buffer, error) {
	if in.EOF {
		return []*types.Buffer{in}, nil
	}
	w, h := in.Width, in.Height
	if w == 0 || h == 0 {
		w, h = d.width, d.height
	}
	if len(in.Data) != types.FrameSize(w, h) {
		return nil, eErrors.PipelineError("decode", eErrors.ErrDecodeFailed).
			WithDetail("sequence", in.Sequence).
			WithDetail("size", len(in.Data))
	}
	out := *in
	out.Kind = types.BufferFrame
	out.Width, out.Height = w, h
	return []*types.Buffer{&out}, nil
}

func (d *rawDecoder) Close() error { return nil }

type rawEncoderObject struct{}

func (rawEncoderObject) Info() types.Info {
	return types.Info{ID: RawEncoderID, Name: "Raw video encoder", Kind: types.KindEncoder, Codecs: []string{RawVideoCodec}}
}

func (rawEncoderObject) NewStage() types.Stage { return &rawEncoder{} }

// rawEncoder passes frames through as packets and counts them. A second
// pass with first-pass statistics logs them for rate planning.
type rawEncoder struct {
	logger hclog.Logger
	frames int64
	bytes  int64
}

func (e *rawEncoder) Init(sc *types.StageContext) error {
	e.logger = sc.Logger
	if e.logger == nil {
		e.logger = hclog.NewNullLogger()
	}
	if fp := sc.FirstPass; fp != nil {
		e.logger.Debug("using first pass statistics",
			"frames", fp.OutFrameCount,
			"vrate", fp.VRate.String())
	}
	return nil
}

func (e *rawEncoder) Process(in *types.Buffer) ([]*types.Buffer, error) {
	if in.EOF {
		e.logger.Debug("encoder flushed", "frames", e.frames, "bytes", e.bytes)
		return []*types.Buffer{in}, nil
	}
	if in.Kind != types.BufferFrame {
		return nil, eErrors.PipelineError("encode", fmt.Errorf("expected frame, got packet %d", in.Sequence))
	}
	e.frames++
	e.bytes += int64(len(in.Data))
	out := *in
	out.Kind = types.BufferPacket
	return []*types.Buffer{&out}, nil
}

func (e *rawEncoder) Close() error { return nil }
