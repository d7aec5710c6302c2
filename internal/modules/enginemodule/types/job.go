package types

import "fmt"

// Pass identifies a job's role within a logical multi-pass encode.
type Pass uint8

const (
	PassSingle Pass = iota
	PassFirst
	PassSecond
	PassSubtitleScan
)

func (p Pass) String() string {
	switch p {
	case PassSingle:
		return "single"
	case PassFirst:
		return "first"
	case PassSecond:
		return "second"
	case PassSubtitleScan:
		return "subtitle-scan"
	}
	return fmt.Sprintf("pass(%d)", uint8(p))
}

const passBits = 8

// SequenceID identifies one queued pass job. The low 8 bits hold the Pass,
// the remaining bits the monotonically increasing logical encode number.
type SequenceID uint32

// NewSequenceID composes a sequence id from a logical encode number and a pass.
func NewSequenceID(logical uint32, pass Pass) SequenceID {
	return SequenceID(logical<<passBits | uint32(pass))
}

// Logical returns the logical encode number shared by all passes.
func (s SequenceID) Logical() uint32 { return uint32(s) >> passBits }

// Pass returns the pass encoded in the low bits.
func (s SequenceID) Pass() Pass { return Pass(uint32(s) & (1<<passBits - 1)) }

func (s SequenceID) String() string {
	return fmt.Sprintf("%d/%s", s.Logical(), s.Pass())
}

// FilterSpec is one entry of a job's filter chain: a registered filter kind
// plus its own settings blob.
type FilterSpec struct {
	ID       string `json:"id"`
	Settings string `json:"settings"`
}

// Job describes one transcode run against a title. Once handed to the queue a
// job is copied and never mutated again.
type Job struct {
	ID       string     `json:"id"`
	Sequence SequenceID `json:"sequence"`

	TitleIndex int    `json:"title_index"`
	Title      *Title `json:"-"`

	Destination string `json:"destination"`
	Muxer       string `json:"muxer"`
	Encoder     string `json:"encoder"`
	Decoder     string `json:"decoder,omitempty"`

	Geometry  GeometrySettings `json:"geometry"`
	FrameRate Rational         `json:"frame_rate"`

	ChapterStart int   `json:"chapter_start"`
	ChapterEnd   int   `json:"chapter_end"`
	Audio        []int `json:"audio"`
	Subtitles    []int `json:"subtitles"`

	Filters []FilterSpec `json:"filters"`

	TwoPass            bool `json:"two_pass"`
	ForeignAudioSearch bool `json:"foreign_audio_search"`

	closed bool
}

// Pass is shorthand for j.Sequence.Pass().
func (j *Job) Pass() Pass { return j.Sequence.Pass() }

// Clone returns a deep copy of j sharing the (immutable) title reference.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Audio = append([]int(nil), j.Audio...)
	c.Subtitles = append([]int(nil), j.Subtitles...)
	c.Filters = append([]FilterSpec(nil), j.Filters...)
	return &c
}

// Close releases the job's owned resources. Closing a nil or already closed
// job is a no-op.
func (j *Job) Close() {
	if j == nil || j.closed {
		return
	}
	j.Filters = nil
	j.Audio = nil
	j.Subtitles = nil
	j.Title = nil
	j.closed = true
}

// Closed reports whether Close has been called.
func (j *Job) Closed() bool { return j != nil && j.closed }
