package registry

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopStage struct{}

func (nopStage) Init(*types.StageContext) error                    { return nil }
func (nopStage) Process(in *types.Buffer) ([]*types.Buffer, error) { return []*types.Buffer{in}, nil }
func (nopStage) Close() error                                      { return nil }

type stageObject struct{ info types.Info }

func (s stageObject) Info() types.Info      { return s.info }
func (s stageObject) NewStage() types.Stage { return nopStage{} }

type readerObject struct {
	info   types.Info
	prefix string
}

func (r readerObject) Info() types.Info { return r.info }
func (r readerObject) CanRead(path string) bool {
	return len(path) >= len(r.prefix) && path[:len(r.prefix)] == r.prefix
}
func (r readerObject) NewReader() types.Reader { return nopReader{} }

type nopReader struct{}

func (nopReader) Open(context.Context, string) error               { return nil }
func (nopReader) Name() string                                     { return "" }
func (nopReader) TitleCount() int                                  { return 0 }
func (nopReader) Probe(context.Context, int) (*types.Title, error) { return nil, nil }
func (nopReader) Close() error                                     { return nil }
func (nopReader) Frame(context.Context, int, time.Duration) (*types.Buffer, error) {
	return nil, nil
}
func (nopReader) Stream(context.Context, *types.Title) (types.PacketStream, error) {
	return nil, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New(hclog.NewNullLogger())

	require.NoError(t, r.Register(stageObject{types.Info{ID: "rawvideo", Kind: types.KindEncoder}}))
	assert.Equal(t, 1, r.Count())

	obj, err := r.Get(types.KindEncoder, "rawvideo")
	require.NoError(t, err)
	assert.Equal(t, "rawvideo", obj.Info().ID)

	_, err = r.Get(types.KindDecoder, "rawvideo")
	assert.True(t, eErrors.Is(err, eErrors.ErrWorkObjectNotFound))
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := New(hclog.NewNullLogger())
	require.NoError(t, r.Register(stageObject{types.Info{ID: "y4m", Kind: types.KindMuxer, Name: "old"}}))
	require.NoError(t, r.Register(stageObject{types.Info{ID: "y4m", Kind: types.KindMuxer, Name: "new"}}))

	assert.Equal(t, 1, r.Count())
	obj, err := r.Get(types.KindMuxer, "y4m")
	require.NoError(t, err)
	assert.Equal(t, "new", obj.Info().Name)
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	r := New(hclog.NewNullLogger())
	assert.Error(t, r.Register(stageObject{types.Info{Kind: types.KindFilter}}))
	// a stage object cannot be registered as a reader
	assert.Error(t, r.Register(stageObject{types.Info{ID: "x", Kind: types.KindReader}}))
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_ReaderFor(t *testing.T) {
	r := New(hclog.NewNullLogger())
	require.NoError(t, r.Register(readerObject{types.Info{ID: "late", Kind: types.KindReader, Order: 20}, "/"}))
	require.NoError(t, r.Register(readerObject{types.Info{ID: "early", Kind: types.KindReader, Order: 10}, "/media"}))

	_, info, err := r.ReaderFor("/media/movie.y4m")
	require.NoError(t, err)
	assert.Equal(t, "early", info.ID)

	_, info, err = r.ReaderFor("/other/file")
	require.NoError(t, err)
	assert.Equal(t, "late", info.ID)

	_, _, err = r.ReaderFor("relative")
	assert.True(t, eErrors.Is(err, eErrors.ErrNoReader))
}

func TestRegistry_DecoderFor(t *testing.T) {
	r := New(hclog.NewNullLogger())
	require.NoError(t, r.Register(stageObject{types.Info{ID: "sw", Kind: types.KindDecoder, Codecs: []string{"h264"}}}))
	require.NoError(t, r.Register(stageObject{types.Info{ID: "hw", Kind: types.KindDecoder, Codecs: []string{"h264"}, Hardware: true}}))

	dec, err := r.DecoderFor("H264", false)
	require.NoError(t, err)
	assert.Equal(t, "sw", dec.Info().ID)

	dec, err = r.DecoderFor("h264", true)
	require.NoError(t, err)
	assert.Equal(t, "hw", dec.Info().ID)

	_, err = r.DecoderFor("vp9", true)
	assert.True(t, eErrors.Is(err, eErrors.ErrWorkObjectNotFound))
}

func TestRegistry_ListOrdered(t *testing.T) {
	r := New(hclog.NewNullLogger())
	require.NoError(t, r.Register(stageObject{types.Info{ID: "cropscale", Kind: types.KindFilter, Order: 40}}))
	require.NoError(t, r.Register(stageObject{types.Info{ID: "combdetect", Kind: types.KindFilter, Order: 10}}))
	require.NoError(t, r.Register(stageObject{types.Info{ID: "deinterlace", Kind: types.KindFilter, Order: 20}}))

	list := r.List(types.KindFilter)
	require.Len(t, list, 3)
	assert.Equal(t, "combdetect", list[0].ID)
	assert.Equal(t, "deinterlace", list[1].ID)
	assert.Equal(t, "cropscale", list[2].ID)

	order, err := r.FilterOrder("deinterlace")
	require.NoError(t, err)
	assert.Equal(t, 20, order)

	r.Clear()
	assert.Equal(t, 0, r.Count())
}
