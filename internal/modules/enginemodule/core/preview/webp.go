package preview

import (
	"bytes"

	"github.com/chai2010/webp"
	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// EncodeWebP encodes a preview image for the host. quality <= 0 selects
// lossless output.
func EncodeWebP(img *types.Image, quality float32) ([]byte, error) {
	if img == nil || img.Pix == nil {
		return nil, eErrors.PreviewError("encode_preview", eErrors.ErrInvalidInput)
	}
	opts := &webp.Options{Lossless: quality <= 0, Quality: quality}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img.Pix, opts); err != nil {
		return nil, eErrors.PreviewError("encode_preview", err)
	}
	return buf.Bytes(), nil
}
