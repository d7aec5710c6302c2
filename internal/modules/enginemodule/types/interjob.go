package types

// InterjobData carries statistics from one pass to the next pass of the same
// logical encode.
type InterjobData struct {
	// LastJob is the sequence id of the most recently finished job.
	LastJob       SequenceID `json:"last_job"`
	FrameCount    int64      `json:"frame_count"`
	OutFrameCount int64      `json:"out_frame_count"`
	// TotalTime is the real length in 90kHz ticks.
	TotalTime int64    `json:"total_time"`
	VRate     Rational `json:"vrate"`

	// SelectSubtitle is the foreign audio search result, if any.
	SelectSubtitle *SubtitleTrack `json:"select_subtitle,omitempty"`
}

// FirstPassFor reports whether d holds first-pass statistics for the logical
// encode that seq belongs to.
func (d InterjobData) FirstPassFor(seq SequenceID) bool {
	return d.LastJob.Logical() == seq.Logical() && d.LastJob.Pass() == PassFirst && d.OutFrameCount > 0
}
