package enginemodule

import (
	"context"
	"time"

	"github.com/mantonx/encore/internal/modules/enginemodule/core/filters"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/preview"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/scanner"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/watcher"
	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// ScanParams describes a scan request.
type ScanParams = scanner.Params

// Scan starts an asynchronous scan of path. titleIndex 0 scans every title.
// minDuration 0 keeps titles of any length. Progress and completion are
// reported through GetState.
func (s *Session) Scan(path string, titleIndex, previewCount int, storePreviews bool, minDuration time.Duration) error {
	return s.ScanWith(ScanParams{
		Path:          path,
		TitleIndex:    titleIndex,
		Previews:      previewCount,
		StorePreviews: storePreviews,
		MinDuration:   minDuration,
	})
}

// ScanWith starts a scan from p.
func (s *Session) ScanWith(p ScanParams) error {
	if p.TitleIndex < 0 || p.Previews < 0 || p.MinDuration < 0 {
		return eErrors.ValidationError("scan", eErrors.ErrInvalidInput).
			WithDetail("title", p.TitleIndex).
			WithDetail("previews", p.Previews)
	}
	return s.scheduler.Scan(p)
}

// ScanStop cancels a running scan. Titles found so far stay available.
func (s *Session) ScanStop() { s.scheduler.ScanStop() }

// TitleSet returns the latest title set. While a scan runs it holds the
// titles found so far.
func (s *Session) TitleSet() *types.TitleSet { return s.scheduler.TitleSet() }

// Titles returns the titles of the latest title set.
func (s *Session) Titles() []*types.Title { return s.TitleSet().Titles }

// FindTitleByIndex returns the title with the given 1-based index.
func (s *Session) FindTitleByIndex(index int) (*types.Title, error) {
	if t := s.TitleSet().Find(index); t != nil {
		return t, nil
	}
	return nil, eErrors.ScanError("find_title", eErrors.ErrTitleNotFound).WithDetail("title", index)
}

// FirstDuration returns the duration of the first title of path without a
// full scan. An empty path reports the first title of the current set.
func (s *Session) FirstDuration(ctx context.Context, path string) (time.Duration, error) {
	if path == "" {
		titles := s.Titles()
		if len(titles) == 0 {
			return 0, eErrors.ScanError("first_duration", eErrors.ErrTitleNotFound)
		}
		return titles[0].Duration, nil
	}
	return s.scanner.FirstDuration(ctx, path)
}

// WatchSource starts a scan with p whenever dir settles after a change
// while the session is idle. The returned function stops watching;
// Close stops every watcher.
func (s *Session) WatchSource(dir string, p ScanParams, debounce time.Duration) (func() error, error) {
	w, err := watcher.New(dir, debounce, func(string) {
		if s.scheduler.Phase() != types.PhaseIdle {
			s.logger.Debug("source changed while busy, not rescanning", "dir", dir)
			return
		}
		if err := s.scheduler.Scan(p); err != nil {
			s.logger.Debug("rescan not started", "dir", dir, "error", err)
		}
	}, s.logger)
	if err != nil {
		return nil, eErrors.ValidationError("watch_source", err)
	}

	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil, eErrors.SessionError("watch_source", eErrors.ErrHandleClosed)
	}
	if err := w.Start(); err != nil {
		return nil, eErrors.InternalError("watch_source", err)
	}
	s.watchers = append(s.watchers, w)
	return w.Stop, nil
}

// SavePreview caches a raw preview frame for (title, preview).
func (s *Session) SavePreview(title, preview int, buf *types.Buffer) error {
	if buf == nil {
		return eErrors.PreviewError("save_preview", eErrors.ErrInvalidInput)
	}
	return s.previews.Save(title, preview, buf)
}

// ReadPreview returns the cached raw preview frame for (title, preview).
func (s *Session) ReadPreview(title *types.Title, preview int) (*types.Buffer, error) {
	return s.previews.Read(title, preview)
}

// GetPreview2 returns preview picture of the title with the given index,
// deinterlaced on request and shaped by geo. Errors wrap
// ErrPreviewOutOfRange or ErrDecodeFailed.
func (s *Session) GetPreview2(ctx context.Context, titleIndex, picture int, geo types.GeometrySettings, deinterlace bool) (*types.Image, error) {
	title := s.TitleSet().Find(titleIndex)
	if title == nil {
		return nil, eErrors.PreviewError("get_preview", eErrors.ErrTitleNotFound).WithDetail("title", titleIndex)
	}
	return s.previews.Image(ctx, title, picture, geo, deinterlace)
}

// SetAnamorphicSize2 computes the output geometry for src under settings.
// It is pure.
func SetAnamorphicSize2(src types.Geometry, settings types.GeometrySettings) types.Geometry {
	return preview.SetAnamorphicSize(src, settings)
}

// EncodePreview encodes a preview picture as WebP. quality <= 0 is lossless.
func EncodePreview(img *types.Image, quality float32) ([]byte, error) {
	return preview.EncodeWebP(img, quality)
}

// DetectComb reports whether a frame shows interlacing artifacts.
func DetectComb(buf *types.Buffer, p filters.CombParams) bool {
	return filters.DetectComb(buf, p)
}
