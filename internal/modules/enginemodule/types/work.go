package types

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Kind is the pipeline role of a work object.
type Kind string

const (
	KindReader  Kind = "reader"
	KindDecoder Kind = "decoder"
	KindFilter  Kind = "filter"
	KindEncoder Kind = "encoder"
	KindMuxer   Kind = "muxer"
)

// Info describes a registered work object.
type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	// Codecs lists the codec names a decoder accepts.
	Codecs   []string `json:"codecs,omitempty"`
	Hardware bool     `json:"hardware"`
	// Order is the canonical position of a filter in a chain, and the probe
	// priority of a reader (lower first).
	Order int `json:"order"`
}

// WorkObject is anything that can be registered with the engine.
type WorkObject interface {
	Info() Info
}

// ReaderObject opens sources.
type ReaderObject interface {
	WorkObject
	CanRead(path string) bool
	NewReader() Reader
}

// StageObject creates decoder, filter, encoder and muxer instances.
type StageObject interface {
	WorkObject
	NewStage() Stage
}

// Reader enumerates and streams the titles of one source.
type Reader interface {
	Open(ctx context.Context, path string) error
	// Name returns the volume or source name.
	Name() string
	TitleCount() int
	// Probe returns the metadata of title index (1-based).
	Probe(ctx context.Context, index int) (*Title, error)
	// Frame returns the packet nearest to the given position.
	Frame(ctx context.Context, index int, at time.Duration) (*Buffer, error)
	// Stream opens a packet stream over the whole title.
	Stream(ctx context.Context, title *Title) (PacketStream, error)
	Close() error
}

// SubtitleCounter is implemented by readers that can count subtitle events
// for the foreign audio search.
type SubtitleCounter interface {
	CountSubtitleEvents(ctx context.Context, title *Title, track int) (int, error)
}

// PacketStream yields packets in source order and io.EOF at the end.
type PacketStream interface {
	Next(ctx context.Context) (*Buffer, error)
	Close() error
}

// StageContext is handed to a stage at Init.
type StageContext struct {
	Job      *Job
	Title    *Title
	Settings string
	// Output is the geometry frames should have once they leave the filter chain.
	Output    Geometry
	FrameRate Rational
	// Destination is where a muxer writes. The scheduler renames it into
	// place once the job completes.
	Destination string
	// FirstPass holds first-pass statistics when a second pass has them.
	FirstPass *InterjobData
	Logger    hclog.Logger
}

// Stage is one decode, filter, encode or mux step. Process is called once per
// buffer in source order; the final call carries an EOF buffer and must
// return anything the stage still holds.
type Stage interface {
	Init(sc *StageContext) error
	Process(in *Buffer) ([]*Buffer, error)
	Close() error
}
