package works

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

const (
	Y4MMuxerID  = "y4m"
	NullMuxerID = "null"
)

type y4mMuxerObject struct{}

func (y4mMuxerObject) Info() types.Info {
	return types.Info{ID: Y4MMuxerID, Name: "YUV4MPEG2 muxer", Kind: types.KindMuxer}
}

func (y4mMuxerObject) NewStage() types.Stage { return &y4mMuxer{} }

// y4mMuxer writes raw packets to a YUV4MPEG2 file. The header is written
// when the first packet arrives so it carries the filtered frame size.
type y4mMuxer struct {
	logger hclog.Logger
	path   string
	rate   types.Rational
	par    types.Rational
	f      *os.File
	w      *bufio.Writer
	header bool
	frames int64
}

func (m *y4mMuxer) Init(sc *types.StageContext) error {
	if sc.Destination == "" {
		return eErrors.PipelineError("muxer_init", eErrors.ErrInvalidInput).WithDetail("reason", "no destination")
	}
	m.logger = sc.Logger
	if m.logger == nil {
		m.logger = hclog.NewNullLogger()
	}
	m.path = sc.Destination
	m.rate = sc.FrameRate
	if !m.rate.Valid() {
		m.rate = types.Rational{Num: 25, Den: 1}
	}
	m.par = sc.Output.PAR
	if !m.par.Valid() {
		m.par = types.Rational{Num: 1, Den: 1}
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return eErrors.StorageError("muxer_init", err).WithDetail("path", m.path)
	}
	f, err := os.Create(m.path)
	if err != nil {
		return eErrors.StorageError("muxer_init", err).WithDetail("path", m.path)
	}
	m.f = f
	m.w = bufio.NewWriterSize(f, 1<<20)
	return nil
}

func (m *y4mMuxer) Process(in *types.Buffer) ([]*types.Buffer, error) {
	if in.EOF {
		if err := m.w.Flush(); err != nil {
			return nil, eErrors.StorageError("mux_flush", err)
		}
		m.logger.Debug("muxer finished", "path", m.path, "frames", m.frames)
		return nil, nil
	}
	if !m.header {
		h := y4mHeader{Width: in.Width, Height: in.Height, FrameRate: m.rate, PAR: m.par, Interlace: 'p'}
		if err := writeY4MHeader(m.w, h); err != nil {
			return nil, eErrors.StorageError("mux_header", err)
		}
		m.header = true
	}
	if len(in.Data) != types.FrameSize(in.Width, in.Height) {
		return nil, eErrors.PipelineError("mux", fmt.Errorf("packet %d has %d bytes for %dx%d", in.Sequence, len(in.Data), in.Width, in.Height))
	}
	if err := writeY4MFrame(m.w, in.Data); err != nil {
		return nil, eErrors.StorageError("mux_frame", err)
	}
	m.frames++
	return nil, nil
}

func (m *y4mMuxer) Close() error {
	if m.f == nil {
		return nil
	}
	err := m.w.Flush()
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	m.f = nil
	return err
}

type nullMuxerObject struct{}

func (nullMuxerObject) Info() types.Info {
	return types.Info{ID: NullMuxerID, Name: "Null muxer", Kind: types.KindMuxer}
}

func (nullMuxerObject) NewStage() types.Stage { return &nullMuxer{} }

// nullMuxer discards everything. First passes use it.
type nullMuxer struct{}

func (nullMuxer) Init(sc *types.StageContext) error              { return nil }
func (nullMuxer) Process(*types.Buffer) ([]*types.Buffer, error) { return nil, nil }
func (nullMuxer) Close() error                                   { return nil }

// Builtins returns the built-in readers, codecs and muxers.
func Builtins() []types.WorkObject {
	return []types.WorkObject{
		y4mReaderObject{},
		ffmpegReaderObject{},
		rawDecoderObject{},
		rawEncoderObject{},
		y4mMuxerObject{},
		nullMuxerObject{},
	}
}
