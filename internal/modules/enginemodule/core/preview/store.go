// Package preview provides the preview frame cache, the anamorphic geometry
// calculation, and on-demand preview image generation.
package preview

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"
	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// Store caches decoded preview frames keyed by (title, index).
type Store interface {
	Save(title, index int, buf *types.Buffer) error
	Load(title, index int) (*types.Buffer, error)
	Clear() error
}

type cacheKey struct {
	title, index int
}

// MemoryStore keeps previews in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	frames map[cacheKey]*types.Buffer
}

// NewMemoryStore creates an empty in-memory preview cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{frames: make(map[cacheKey]*types.Buffer)}
}

func (m *MemoryStore) Save(title, index int, buf *types.Buffer) error {
	if buf == nil {
		return eErrors.PreviewError("save_preview", eErrors.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames[cacheKey{title, index}] = buf.Clone()
	return nil
}

func (m *MemoryStore) Load(title, index int) (*types.Buffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	buf, ok := m.frames[cacheKey{title, index}]
	if !ok {
		return nil, eErrors.PreviewError("read_preview", eErrors.ErrPreviewNotCached).
			WithDetail("title", title).
			WithDetail("index", index)
	}
	return buf.Clone(), nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = make(map[cacheKey]*types.Buffer)
	return nil
}

// previewMagic prefixes every file written by DiskStore.
var previewMagic = [4]byte{'E', 'P', 'V', '2'}

// diskHeader carries every Buffer field except EOF, which is never cached.
type diskHeader struct {
	Magic    [4]byte
	Kind     uint8
	Combed   uint8
	_        [2]byte
	Width    uint32
	Height   uint32
	PTS      int64
	Duration int64
	Sequence int64
	Size     uint32
}

// DiskStore writes previews as files under a directory, so later reads
// skip decoding.
type DiskStore struct {
	dir    string
	mu     sync.Mutex
	logger hclog.Logger
}

// NewDiskStore creates dir if needed and returns a store rooted there.
func NewDiskStore(dir string, logger hclog.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, eErrors.StorageError("create_preview_dir", err).WithDetail("dir", dir)
	}
	return &DiskStore{dir: dir, logger: logger.Named("preview-store")}, nil
}

// Dir returns the directory previews are written to.
func (d *DiskStore) Dir() string { return d.dir }

func (d *DiskStore) path(title, index int) string {
	return filepath.Join(d.dir, fmt.Sprintf("%d_%d.yuv", title, index))
}

func (d *DiskStore) Save(title, index int, buf *types.Buffer) error {
	if buf == nil {
		return eErrors.PreviewError("save_preview", eErrors.ErrInvalidInput)
	}
	var b bytes.Buffer
	hdr := diskHeader{
		Magic:    previewMagic,
		Kind:     uint8(buf.Kind),
		Width:    uint32(buf.Width),
		Height:   uint32(buf.Height),
		PTS:      buf.PTS,
		Duration: buf.Duration,
		Sequence: buf.Sequence,
		Size:     uint32(len(buf.Data)),
	}
	if buf.Combed {
		hdr.Combed = 1
	}
	if err := binary.Write(&b, binary.LittleEndian, hdr); err != nil {
		return eErrors.StorageError("save_preview", err)
	}
	b.Write(buf.Data)

	d.mu.Lock()
	defer d.mu.Unlock()

	target := d.path(title, index)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, b.Bytes(), 0644); err != nil {
		return eErrors.StorageError("save_preview", err).WithDetail("path", tmp)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return eErrors.StorageError("save_preview", err).WithDetail("path", target)
	}
	return nil
}

func (d *DiskStore) Load(title, index int) (*types.Buffer, error) {
	f, err := os.Open(d.path(title, index))
	if os.IsNotExist(err) {
		return nil, eErrors.PreviewError("read_preview", eErrors.ErrPreviewNotCached).
			WithDetail("title", title).
			WithDetail("index", index)
	}
	if err != nil {
		return nil, eErrors.StorageError("read_preview", err)
	}
	defer f.Close()

	var hdr diskHeader
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		return nil, eErrors.StorageError("read_preview", err)
	}
	if hdr.Magic != previewMagic {
		return nil, eErrors.StorageError("read_preview", fmt.Errorf("bad preview file magic"))
	}
	data := make([]byte, hdr.Size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, eErrors.StorageError("read_preview", err)
	}
	return &types.Buffer{
		Kind:     types.BufferKind(hdr.Kind),
		Data:     data,
		Width:    int(hdr.Width),
		Height:   int(hdr.Height),
		PTS:      hdr.PTS,
		Duration: hdr.Duration,
		Sequence: hdr.Sequence,
		Combed:   hdr.Combed != 0,
	}, nil
}

// Clear removes every cached preview file.
func (d *DiskStore) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	matches, err := filepath.Glob(filepath.Join(d.dir, "*.yuv"))
	if err != nil {
		return eErrors.StorageError("clear_previews", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			d.logger.Warn("failed to remove preview", "path", m, "error", err)
		}
	}
	return nil
}
