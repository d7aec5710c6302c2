// Package scanner probes a source for titles, decodes evenly spaced preview
// frames and analyzes them for combing and black borders.
package scanner

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/filters"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/preview"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/registry"
	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// Params describes one scan request.
type Params struct {
	Path string
	// TitleIndex 0 scans every title, otherwise only that one.
	TitleIndex    int
	Previews      int
	StorePreviews bool
	// MinDuration drops shorter titles. Zero disables the filter.
	MinDuration time.Duration
}

// Sink receives scan output. Publish is called with a complete TitleSet
// every time a title is added; Progress after each unit of work.
type Sink interface {
	Publish(set *types.TitleSet)
	Progress(p types.ScanProgress)
}

// Scanner enumerates titles through the registry's readers.
type Scanner struct {
	registry *registry.Registry
	hardware func() bool
	comb     filters.CombParams
	logger   hclog.Logger
}

// New creates a scanner. hardware reports whether hardware decoders may be
// used for previews.
func New(reg *registry.Registry, hardware func() bool, logger hclog.Logger) *Scanner {
	if hardware == nil {
		hardware = func() bool { return false }
	}
	return &Scanner{
		registry: reg,
		hardware: hardware,
		comb:     filters.DefaultCombParams(),
		logger:   logger.Named("scanner"),
	}
}

// Scan runs a scan to completion or until ctx is cancelled. Previews go to
// store. On cancellation the last published set stays valid and Scan
// returns an error wrapping ErrCancelled.
func (s *Scanner) Scan(ctx context.Context, p Params, store preview.Store, sink Sink) error {
	reader, info, err := s.registry.ReaderFor(p.Path)
	if err != nil {
		return eErrors.ScanError("scan", err)
	}
	if err := reader.Open(ctx, p.Path); err != nil {
		return eErrors.ScanError("scan", err).WithDetail("reader", info.ID)
	}
	defer reader.Close()

	set := &types.TitleSet{ScanID: uuid.NewString(), Path: p.Path, Name: reader.Name()}
	sink.Publish(set)

	indices, err := titleIndices(p.TitleIndex, reader.TitleCount())
	if err != nil {
		return err
	}

	s.logger.Info("scan started",
		"path", p.Path,
		"reader", info.ID,
		"titles", len(indices),
		"previews", p.Previews,
		"min_duration", p.MinDuration)

	for n, idx := range indices {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		sink.Progress(types.ScanProgress{
			TitleCur:     n + 1,
			TitleCount:   len(indices),
			PreviewCount: p.Previews,
			Progress:     float64(n) / float64(len(indices)),
		})

		title, err := reader.Probe(ctx, idx)
		if err != nil {
			if ctx.Err() != nil {
				return cancelled(ctx.Err())
			}
			s.logger.Warn("skipping unreadable title", "title", idx, "error", err)
			continue
		}
		if p.MinDuration > 0 && title.Duration < p.MinDuration {
			s.logger.Debug("title below minimum duration",
				"title", idx,
				"duration", title.Duration,
				"min_duration", p.MinDuration)
			continue
		}

		if p.Previews > 0 {
			if err := s.analyze(ctx, reader, title, p.Previews, store, func(i int) {
				sink.Progress(types.ScanProgress{
					TitleCur:     n + 1,
					TitleCount:   len(indices),
					PreviewCur:   i + 1,
					PreviewCount: p.Previews,
					Progress:     (float64(n) + float64(i+1)/float64(p.Previews)) / float64(len(indices)),
				})
			}); err != nil {
				return err
			}
		}

		set = set.With(title)
		sink.Publish(set)
		s.logger.Debug("title added",
			"title", title.Index,
			"duration", title.Duration,
			"width", title.Geometry.Width,
			"height", title.Geometry.Height,
			"interlaced", title.Interlaced)
	}

	sink.Progress(types.ScanProgress{
		TitleCur:   len(indices),
		TitleCount: len(indices),
		Progress:   1,
	})
	s.logger.Info("scan finished", "path", p.Path, "titles", len(set.Titles), "feature", set.Feature)
	return nil
}

// analyze decodes the title's previews, caches them and derives the
// interlace verdict and autocrop. The title is still private to the scan.
func (s *Scanner) analyze(ctx context.Context, reader types.Reader, title *types.Title, count int, store preview.Store, step func(int)) error {
	title.Previews = count

	var decoded, combed int
	var crop [4]int
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		frame, err := s.decodeAt(ctx, reader, title, title.PreviewPosition(i, count))
		if err != nil {
			if ctx.Err() != nil {
				return cancelled(ctx.Err())
			}
			s.logger.Warn("preview decode failed", "title", title.Index, "preview", i, "error", err)
			step(i)
			continue
		}
		if err := store.Save(title.Index, i, frame); err != nil {
			s.logger.Warn("preview not cached", "title", title.Index, "preview", i, "error", err)
		}
		if filters.DetectComb(frame, s.comb) {
			combed++
		}
		c := DetectCrop(frame)
		if decoded == 0 {
			crop = c
		} else {
			for k := range crop {
				crop[k] = min(crop[k], c[k])
			}
		}
		decoded++
		step(i)
	}

	if decoded > 0 {
		title.Interlaced = title.Interlaced || combed > decoded/2
		title.AutoCrop = crop
	}
	return nil
}

func (s *Scanner) decodeAt(ctx context.Context, reader types.Reader, title *types.Title, at time.Duration) (*types.Buffer, error) {
	pkt, err := reader.Frame(ctx, title.Index, at)
	if err != nil {
		return nil, err
	}
	return s.decode(title, pkt)
}

// decode runs a single packet through a fresh decoder instance.
func (s *Scanner) decode(title *types.Title, pkt *types.Buffer) (*types.Buffer, error) {
	if pkt.Kind == types.BufferFrame {
		return pkt, nil
	}
	obj, err := s.registry.DecoderFor(title.VideoCodec, s.hardware())
	if err != nil {
		return nil, err
	}
	dec := obj.NewStage()
	if err := dec.Init(&types.StageContext{Title: title, Logger: s.logger.Named(obj.Info().ID)}); err != nil {
		return nil, err
	}
	defer dec.Close()

	out, err := dec.Process(pkt)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		if out, err = dec.Process(types.EOFBuffer()); err != nil {
			return nil, err
		}
	}
	for _, b := range out {
		if b != nil && !b.EOF {
			return b, nil
		}
	}
	return nil, errors.New("decoder produced no frame")
}

// DecodePreview decodes preview index of count directly from the title's
// source. It serves as the preview generator's frame source.
func (s *Scanner) DecodePreview(ctx context.Context, title *types.Title, index, count int) (*types.Buffer, error) {
	reader, err := s.registry.ReaderByID(title.Reader)
	if err != nil {
		return nil, err
	}
	if err := reader.Open(ctx, title.Path); err != nil {
		return nil, err
	}
	defer reader.Close()

	probeIndex := title.Index
	if reader.TitleCount() == 1 {
		probeIndex = 1
	}
	pkt, err := reader.Frame(ctx, probeIndex, title.PreviewPosition(index, count))
	if err != nil {
		return nil, err
	}
	return s.decode(title, pkt)
}

// FirstDuration returns the duration of the first title of path without
// running a scan.
func (s *Scanner) FirstDuration(ctx context.Context, path string) (time.Duration, error) {
	reader, _, err := s.registry.ReaderFor(path)
	if err != nil {
		return 0, eErrors.ScanError("first_duration", err)
	}
	if err := reader.Open(ctx, path); err != nil {
		return 0, eErrors.ScanError("first_duration", err)
	}
	defer reader.Close()
	if reader.TitleCount() == 0 {
		return 0, eErrors.ScanError("first_duration", eErrors.ErrTitleNotFound).WithDetail("path", path)
	}
	t, err := reader.Probe(ctx, 1)
	if err != nil {
		return 0, eErrors.ScanError("first_duration", err)
	}
	return t.Duration, nil
}

func titleIndices(want, count int) ([]int, error) {
	if want > 0 {
		if want > count {
			return nil, eErrors.ScanError("scan", eErrors.ErrTitleNotFound).
				WithDetail("title", want).
				WithDetail("count", count)
		}
		return []int{want}, nil
	}
	indices := make([]int, count)
	for i := range indices {
		indices[i] = i + 1
	}
	return indices, nil
}

func cancelled(err error) error {
	return eErrors.ScanError("scan", errors.Join(eErrors.ErrCancelled, err))
}
