package preview

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/filters"
	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
	"golang.org/x/image/draw"
)

// FrameSource decodes preview index of count evenly spaced previews
// directly from the title's source.
type FrameSource func(ctx context.Context, title *types.Title, index, count int) (*types.Buffer, error)

// Generator serves preview frames and images from a cache, decoding on
// demand when a frame is missing.
type Generator struct {
	mu     sync.RWMutex
	store  Store
	source FrameSource
	logger hclog.Logger
}

// NewGenerator creates a generator backed by store. source may be nil, in
// which case only cached previews can be served.
func NewGenerator(store Store, source FrameSource, logger hclog.Logger) *Generator {
	return &Generator{
		store:  store,
		source: source,
		logger: logger.Named("preview"),
	}
}

// SetStore swaps the backing cache.
func (g *Generator) SetStore(s Store) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.store = s
}

// Store returns the current backing cache.
func (g *Generator) Store() Store {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store
}

// Save caches a raw preview frame.
func (g *Generator) Save(title, index int, buf *types.Buffer) error {
	return g.Store().Save(title, index, buf)
}

// Read returns the cached raw preview frame for (title, index).
func (g *Generator) Read(title *types.Title, index int) (*types.Buffer, error) {
	if title == nil {
		return nil, eErrors.PreviewError("read_preview", eErrors.ErrTitleNotFound)
	}
	return g.Store().Load(title.Index, index)
}

// Frame returns the raw preview frame, decoding and caching it when it is
// not cached yet.
func (g *Generator) Frame(ctx context.Context, title *types.Title, picture int) (*types.Buffer, error) {
	if title == nil {
		return nil, eErrors.PreviewError("get_preview", eErrors.ErrTitleNotFound)
	}
	if picture < 0 || picture >= title.Previews {
		return nil, eErrors.PreviewError("get_preview", eErrors.ErrPreviewOutOfRange).
			WithDetail("title", title.Index).
			WithDetail("picture", picture).
			WithDetail("previews", title.Previews)
	}

	buf, err := g.Read(title, picture)
	if err == nil {
		return buf, nil
	}
	if !errors.Is(err, eErrors.ErrPreviewNotCached) {
		g.logger.Warn("preview cache read failed, decoding", "title", title.Index, "picture", picture, "error", err)
	}
	if g.source == nil {
		return nil, eErrors.PreviewError("get_preview", eErrors.ErrDecodeFailed).
			WithDetail("title", title.Index).
			WithDetail("reason", "no frame source")
	}

	buf, err = g.source(ctx, title, picture, title.Previews)
	if err != nil {
		if errors.Is(err, eErrors.ErrCancelled) {
			return nil, err
		}
		g.logger.Debug("preview decode failed", "title", title.Index, "picture", picture, "error", err)
		return nil, eErrors.PreviewError("get_preview", errors.Join(eErrors.ErrDecodeFailed, err)).
			WithDetail("title", title.Index).
			WithDetail("picture", picture)
	}
	if err := g.Save(title.Index, picture, buf); err != nil {
		g.logger.Warn("failed to cache decoded preview", "title", title.Index, "picture", picture, "error", err)
	}
	return buf, nil
}

// Image builds the geometry-corrected preview picture: decode (or load),
// optionally deinterlace, crop and scale to the anamorphic result size.
func (g *Generator) Image(ctx context.Context, title *types.Title, picture int, geo types.GeometrySettings, deinterlace bool) (*types.Image, error) {
	buf, err := g.Frame(ctx, title, picture)
	if err != nil {
		return nil, err
	}
	if deinterlace {
		buf = filters.Deinterlace(buf, filters.DeinterlaceBlend)
	}

	src := types.Geometry{Width: buf.Width, Height: buf.Height, PAR: title.Geometry.PAR}
	result := SetAnamorphicSize(src, geo)
	return Render(buf, geo.Crop, result), nil
}

// Render converts a frame to RGBA, cropping and scaling it to result.
func Render(buf *types.Buffer, crop [4]int, result types.Geometry) *types.Image {
	srcImg := buf.YCbCr()
	srcRect := image.Rect(
		crop[types.CropLeft],
		crop[types.CropTop],
		buf.Width-crop[types.CropRight],
		buf.Height-crop[types.CropBottom],
	)
	if srcRect.Empty() {
		srcRect = srcImg.Rect
	}
	dst := image.NewRGBA(image.Rect(0, 0, result.Width, result.Height))
	draw.BiLinear.Scale(dst, dst.Bounds(), srcImg, srcRect, draw.Src, nil)
	return &types.Image{Geometry: result, Pix: dst}
}
