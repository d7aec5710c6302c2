package types

import "time"

// Chapter is one chapter mark within a title.
type Chapter struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	Start    time.Duration `json:"start"`
	Duration time.Duration `json:"duration"`
}

// AudioTrack describes a source audio stream.
type AudioTrack struct {
	Index      int    `json:"index"`
	Codec      string `json:"codec"`
	Language   string `json:"language"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
	Bitrate    int    `json:"bitrate"`
}

// SubtitleTrack describes a source subtitle stream.
type SubtitleTrack struct {
	Index    int    `json:"index"`
	Language string `json:"language"`
	Format   string `json:"format"`
	Forced   bool   `json:"forced"`
	Source   string `json:"source"`
}

// Title is one playable program discovered by a scan. Titles are immutable
// once published in a TitleSet.
type Title struct {
	Index      int           `json:"index"`
	Path       string        `json:"path"`
	Name       string        `json:"name"`
	Reader     string        `json:"reader"`
	Duration   time.Duration `json:"duration"`
	Geometry   Geometry      `json:"geometry"`
	FrameRate  Rational      `json:"frame_rate"`
	FrameCount int64         `json:"frame_count"`
	VideoCodec string        `json:"video_codec"`
	// SourceCodec is the codec stored in the container when the reader
	// already decodes to VideoCodec.
	SourceCodec string `json:"source_codec,omitempty"`
	Chapters  []Chapter       `json:"chapters"`
	Audio     []AudioTrack    `json:"audio"`
	Subtitles []SubtitleTrack `json:"subtitles"`

	// ForeignAudioCandidates are subtitle tracks eligible for a foreign
	// audio search pass.
	ForeignAudioCandidates []int `json:"foreign_audio_candidates"`

	Previews   int    `json:"previews"`
	Interlaced bool   `json:"interlaced"`
	AutoCrop   [4]int `json:"auto_crop"`
}

// Ticks returns the title duration in 90kHz ticks.
func (t *Title) Ticks() int64 {
	return DurationToTicks(t.Duration)
}

// PreviewPosition returns the source position of preview i (0-based) when
// count previews are spread evenly across the title.
func (t *Title) PreviewPosition(i, count int) time.Duration {
	if count <= 0 {
		return 0
	}
	return time.Duration(int64(t.Duration) * int64(i+1) / int64(count+1))
}

// Clone returns a deep copy of t.
func (t *Title) Clone() *Title {
	if t == nil {
		return nil
	}
	c := *t
	c.Chapters = append([]Chapter(nil), t.Chapters...)
	c.Audio = append([]AudioTrack(nil), t.Audio...)
	c.Subtitles = append([]SubtitleTrack(nil), t.Subtitles...)
	c.ForeignAudioCandidates = append([]int(nil), t.ForeignAudioCandidates...)
	return &c
}

// TitleSet is the immutable result of a scan. A running scan publishes a new
// TitleSet after each title, so every observed set is a prefix of the final one.
type TitleSet struct {
	ScanID  string   `json:"scan_id"`
	Path    string   `json:"path"`
	Name    string   `json:"name"`
	Titles  []*Title `json:"titles"`
	Feature int      `json:"feature"`
}

// Find returns the title with the given 1-based index.
func (ts *TitleSet) Find(index int) *Title {
	if ts == nil {
		return nil
	}
	for _, t := range ts.Titles {
		if t.Index == index {
			return t
		}
	}
	return nil
}

// With returns a copy of ts with t appended and the feature index updated.
func (ts *TitleSet) With(t *Title) *TitleSet {
	next := &TitleSet{ScanID: ts.ScanID, Path: ts.Path, Name: ts.Name, Feature: ts.Feature}
	next.Titles = make([]*Title, 0, len(ts.Titles)+1)
	next.Titles = append(next.Titles, ts.Titles...)
	next.Titles = append(next.Titles, t)
	if f := ts.Find(ts.Feature); f == nil || t.Duration > f.Duration {
		next.Feature = t.Index
	}
	return next
}

// DurationToTicks converts a duration to 90kHz ticks.
func DurationToTicks(d time.Duration) int64 {
	return int64(d) * TicksPerSecond / int64(time.Second)
}

// TicksToDuration converts 90kHz ticks to a duration.
func TicksToDuration(ticks int64) time.Duration {
	return time.Duration(ticks * int64(time.Second) / TicksPerSecond)
}
