// Package enginetest provides an in-memory reader and registry helpers for
// exercising the engine without media files.
package enginetest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/filters"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/registry"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/works"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// ReaderID is the id the fake reader registers under.
const ReaderID = "fake"

// Scheme prefixes source paths served by the fake reader.
const Scheme = "fake://"

// TitleSpec describes one synthetic title.
type TitleSpec struct {
	Duration time.Duration
	Width    int
	Height   int
	Rate     types.Rational
	// Combed makes every frame alternate dark and bright lines.
	Combed bool
	// Border paints black bars of this many lines above and below the picture.
	Border int
	// SubtitleEvents maps subtitle track index to its event count.
	SubtitleEvents map[int]int
	// Chapters splits the title into this many equal chapters.
	Chapters  int
	FailProbe bool
}

func (t TitleSpec) chapters() []types.Chapter {
	n := t.Chapters
	if n < 1 {
		n = 1
	}
	step := t.Duration / time.Duration(n)
	out := make([]types.Chapter, n)
	for i := range out {
		out[i] = types.Chapter{
			Index:    i + 1,
			Name:     fmt.Sprintf("Chapter %d", i+1),
			Start:    time.Duration(i) * step,
			Duration: step,
		}
	}
	out[n-1].Duration = t.Duration - out[n-1].Start
	return out
}

func (t TitleSpec) rate() types.Rational {
	if t.Rate.Valid() {
		return t.Rate
	}
	return types.Rational{Num: 25, Den: 1}
}

func (t TitleSpec) size() (int, int) {
	w, h := t.Width, t.Height
	if w == 0 {
		w = 32
	}
	if h == 0 {
		h = 16
	}
	return w, h
}

// Frames returns the number of frames in the title.
func (t TitleSpec) Frames() int64 {
	r := t.rate()
	return int64(t.Duration) * int64(r.Num) / (int64(time.Second) * int64(r.Den))
}

// Source is one synthetic disc.
type Source struct {
	Name   string
	Titles []TitleSpec
}

// ReaderObject serves registered sources under fake:// paths.
type ReaderObject struct {
	mu      sync.Mutex
	sources map[string]*Source

	// ProbeHook runs before each Probe. FrameHook runs before each streamed
	// packet is returned.
	ProbeHook func(path string, index int)
	FrameHook func(seq int64)
}

// NewReaderObject creates an empty fake reader.
func NewReaderObject() *ReaderObject {
	return &ReaderObject{sources: make(map[string]*Source)}
}

// Add registers src under name and returns its path.
func (o *ReaderObject) Add(name string, src *Source) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if src.Name == "" {
		src.Name = name
	}
	o.sources[Scheme+name] = src
	return Scheme + name
}

func (o *ReaderObject) source(path string) (*Source, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	src, ok := o.sources[path]
	return src, ok
}

func (o *ReaderObject) Info() types.Info {
	return types.Info{ID: ReaderID, Name: "Fake", Kind: types.KindReader, Order: 1}
}

func (o *ReaderObject) CanRead(path string) bool {
	_, ok := o.source(path)
	return ok
}

func (o *ReaderObject) NewReader() types.Reader { return &reader{obj: o} }

type reader struct {
	obj  *ReaderObject
	path string
	src  *Source
}

func (r *reader) Open(ctx context.Context, path string) error {
	src, ok := r.obj.source(path)
	if !ok {
		return fmt.Errorf("no fake source %s", path)
	}
	r.path, r.src = path, src
	return nil
}

func (r *reader) Name() string    { return r.src.Name }
func (r *reader) TitleCount() int { return len(r.src.Titles) }
func (r *reader) Close() error    { return nil }

func (r *reader) spec(index int) (TitleSpec, error) {
	if index < 1 || index > len(r.src.Titles) {
		return TitleSpec{}, fmt.Errorf("title %d out of range", index)
	}
	return r.src.Titles[index-1], nil
}

func (r *reader) Probe(ctx context.Context, index int) (*types.Title, error) {
	if hook := r.obj.ProbeHook; hook != nil {
		hook(r.path, index)
	}
	spec, err := r.spec(index)
	if err != nil {
		return nil, err
	}
	if spec.FailProbe {
		return nil, fmt.Errorf("title %d is unreadable", index)
	}
	w, h := spec.size()
	t := &types.Title{
		Index:      index,
		Path:       r.path,
		Name:       fmt.Sprintf("%s %d", r.src.Name, index),
		Reader:     ReaderID,
		Duration:   spec.Duration,
		Geometry:   types.Geometry{Width: w, Height: h, PAR: types.Rational{Num: 1, Den: 1}},
		FrameRate:  spec.rate(),
		FrameCount: spec.Frames(),
		VideoCodec: works.RawVideoCodec,
		Chapters:   spec.chapters(),
	}
	for i := 1; i <= len(spec.SubtitleEvents); i++ {
		t.Subtitles = append(t.Subtitles, types.SubtitleTrack{Index: i, Language: "eng", Format: "pgs", Source: "fake"})
		t.ForeignAudioCandidates = append(t.ForeignAudioCandidates, i)
	}
	return t, nil
}

func (r *reader) Frame(ctx context.Context, index int, at time.Duration) (*types.Buffer, error) {
	spec, err := r.spec(index)
	if err != nil {
		return nil, err
	}
	rate := spec.rate()
	n := int64(at) * int64(rate.Num) / (int64(time.Second) * int64(rate.Den))
	return Packet(spec, n), nil
}

func (r *reader) Stream(ctx context.Context, title *types.Title) (types.PacketStream, error) {
	spec, err := r.spec(title.Index)
	if err != nil {
		return nil, err
	}
	return &stream{spec: spec, total: spec.Frames(), hook: r.obj.FrameHook}, nil
}

func (r *reader) CountSubtitleEvents(ctx context.Context, title *types.Title, track int) (int, error) {
	spec, err := r.spec(title.Index)
	if err != nil {
		return 0, err
	}
	return spec.SubtitleEvents[track], nil
}

type stream struct {
	spec  TitleSpec
	n     int64
	total int64
	hook  func(int64)
}

func (s *stream) Next(ctx context.Context) (*types.Buffer, error) {
	if s.n >= s.total {
		return nil, io.EOF
	}
	if s.hook != nil {
		s.hook(s.n)
	}
	p := Packet(s.spec, s.n)
	s.n++
	return p, nil
}

func (s *stream) Close() error { return nil }

// Packet builds raw packet n of a title. Content rows carry a value derived
// from n so output order is visible in the bytes.
func Packet(spec TitleSpec, n int64) *types.Buffer {
	w, h := spec.size()
	f := types.NewFrame(w, h)
	y, _, _ := f.Planes()
	for row := 0; row < h; row++ {
		v := byte(64 + n%128)
		switch {
		case row < spec.Border || row >= h-spec.Border:
			v = 16
		case spec.Combed && row%2 == 1:
			v = 235
		case spec.Combed:
			v = 16
		}
		for x := 0; x < w; x++ {
			y[row*w+x] = v
		}
	}
	rate := spec.rate()
	f.Kind = types.BufferPacket
	f.Sequence = n
	f.PTS = n * types.TicksPerSecond * int64(rate.Den) / int64(rate.Num)
	f.Duration = (n+1)*types.TicksPerSecond*int64(rate.Den)/int64(rate.Num) - f.PTS
	return f
}

// Registry returns a registry holding the built-in work objects plus obj.
func Registry(obj *ReaderObject) *registry.Registry {
	reg := registry.New(hclog.NewNullLogger())
	for _, o := range append(works.Builtins(), filters.Builtins()...) {
		if err := reg.Register(o); err != nil {
			panic(err)
		}
	}
	if obj != nil {
		if err := reg.Register(obj); err != nil {
			panic(err)
		}
	}
	return reg
}
