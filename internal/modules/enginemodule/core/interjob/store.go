// Package interjob keeps the statistics one pass leaves for the next pass of
// the same logical encode.
package interjob

import (
	"sync"

	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// Store is a session-scoped holder of one InterjobData record. The record is
// created zero-valued on first access and only replaced wholesale.
type Store struct {
	mu   sync.Mutex
	data *types.InterjobData
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

func (s *Store) lazy() *types.InterjobData {
	if s.data == nil {
		s.data = &types.InterjobData{}
	}
	return s.data
}

// Get returns a copy of the current record.
func (s *Store) Get() types.InterjobData {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := *s.lazy()
	if d.SelectSubtitle != nil {
		sub := *d.SelectSubtitle
		d.SelectSubtitle = &sub
	}
	return d
}

// Record overwrites the pass statistics with those of a finished job. The
// subtitle selection survives only while the logical encode stays the same.
func (s *Store) Record(seq types.SequenceID, frames, outFrames, totalTicks int64, vrate types.Rational) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.lazy()
	sub := d.SelectSubtitle
	if d.LastJob.Logical() != seq.Logical() {
		sub = nil
	}
	*d = types.InterjobData{
		LastJob:        seq,
		FrameCount:     frames,
		OutFrameCount:  outFrames,
		TotalTime:      totalTicks,
		VRate:          vrate,
		SelectSubtitle: sub,
	}
}

// SetSubtitle stores the foreign audio search result for seq's encode.
func (s *Store) SetSubtitle(seq types.SequenceID, track *types.SubtitleTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.lazy()
	d.LastJob = seq
	if track == nil {
		d.SelectSubtitle = nil
		return
	}
	t := *track
	d.SelectSubtitle = &t
}

// Reset discards the record. A new scan or session close calls it.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
}
