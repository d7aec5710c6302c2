package works

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// Y4MReaderID is the id of the YUV4MPEG2 reader.
const Y4MReaderID = "y4m"

type y4mReaderObject struct{}

func (y4mReaderObject) Info() types.Info {
	return types.Info{ID: Y4MReaderID, Name: "YUV4MPEG2", Kind: types.KindReader, Order: 10}
}

// CanRead accepts a .y4m file or a directory holding at least one.
func (y4mReaderObject) CanRead(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	if !fi.IsDir() {
		return isY4M(path)
	}
	files, _ := listY4M(path)
	return len(files) > 0
}

func (y4mReaderObject) NewReader() types.Reader { return &y4mReader{} }

// y4mReader treats a single file as one title and a directory as a
// disc-like source with one title per file, ordered by name.
type y4mReader struct {
	path  string
	files []string
}

func (r *y4mReader) Open(ctx context.Context, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return eErrors.ScanError("open_source", eErrors.ErrUnreadableSource).WithDetail("path", path)
	}
	r.path = path
	if !fi.IsDir() {
		r.files = []string{path}
		return nil
	}
	r.files, err = listY4M(path)
	if err != nil {
		return eErrors.ScanError("open_source", err).WithDetail("path", path)
	}
	return nil
}

func (r *y4mReader) Name() string {
	return strings.TrimSuffix(filepath.Base(r.path), filepath.Ext(r.path))
}

func (r *y4mReader) TitleCount() int { return len(r.files) }

func (r *y4mReader) file(index int) (string, error) {
	if index < 1 || index > len(r.files) {
		return "", eErrors.ScanError("probe_title", eErrors.ErrTitleNotFound).WithDetail("index", index)
	}
	return r.files[index-1], nil
}

func (r *y4mReader) Probe(ctx context.Context, index int) (*types.Title, error) {
	path, err := r.file(index)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eErrors.ScanError("probe_title", err).WithDetail("path", path)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, eErrors.ScanError("probe_title", err).WithDetail("path", path)
	}
	hdr, err := readY4MHeader(bufio.NewReader(f))
	if err != nil {
		return nil, eErrors.ScanError("probe_title", err).WithDetail("path", path)
	}

	frames := (fi.Size() - int64(hdr.Size)) / hdr.frameStride()
	duration := time.Duration(frames * int64(time.Second) * int64(hdr.FrameRate.Den) / int64(hdr.FrameRate.Num))

	return &types.Title{
		Index:      index,
		Path:       path,
		Name:       strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Reader:     Y4MReaderID,
		Duration:   duration,
		Geometry:   types.Geometry{Width: hdr.Width, Height: hdr.Height, PAR: hdr.PAR},
		FrameRate:  hdr.FrameRate,
		FrameCount: frames,
		VideoCodec: RawVideoCodec,
		Chapters:   []types.Chapter{{Index: 1, Name: "Chapter 1", Duration: duration}},
		Interlaced: hdr.Interlace == 't' || hdr.Interlace == 'b',
	}, nil
}

func (r *y4mReader) Frame(ctx context.Context, index int, at time.Duration) (*types.Buffer, error) {
	path, err := r.file(index)
	if err != nil {
		return nil, err
	}
	s, err := openY4MStream(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	n := int64(at) * int64(s.hdr.FrameRate.Num) / (int64(time.Second) * int64(s.hdr.FrameRate.Den))
	if err := s.seek(n); err != nil {
		return nil, err
	}
	return s.Next(ctx)
}

func (r *y4mReader) Stream(ctx context.Context, title *types.Title) (types.PacketStream, error) {
	return openY4MStream(title.Path)
}

func (r *y4mReader) Close() error { return nil }

// y4mStream reads frames sequentially from one file.
type y4mStream struct {
	f   *os.File
	br  *bufio.Reader
	hdr y4mHeader
	n   int64
}

func openY4MStream(path string) (*y4mStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eErrors.PipelineError("open_stream", err).WithDetail("path", path)
	}
	br := bufio.NewReaderSize(f, 1<<20)
	hdr, err := readY4MHeader(br)
	if err != nil {
		f.Close()
		return nil, eErrors.PipelineError("open_stream", err).WithDetail("path", path)
	}
	return &y4mStream{f: f, br: br, hdr: hdr}, nil
}

func (s *y4mStream) seek(frame int64) error {
	if frame <= 0 {
		return nil
	}
	off := int64(s.hdr.Size) + frame*s.hdr.frameStride()
	if _, err := s.f.Seek(off, io.SeekStart); err != nil {
		return eErrors.PipelineError("seek", err)
	}
	s.br.Reset(s.f)
	s.n = frame
	return nil
}

func (s *y4mStream) Next(ctx context.Context) (*types.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := make([]byte, s.hdr.frameSize())
	if err := readY4MFrame(s.br, s.hdr, data); err != nil {
		return nil, err
	}
	buf := &types.Buffer{
		Kind:     types.BufferPacket,
		Data:     data,
		Width:    s.hdr.Width,
		Height:   s.hdr.Height,
		PTS:      framePTS(s.n, s.hdr.FrameRate),
		Duration: framePTS(1, s.hdr.FrameRate),
		Sequence: s.n,
	}
	s.n++
	return buf, nil
}

func (s *y4mStream) Close() error { return s.f.Close() }

func isY4M(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".y4m")
}

func listY4M(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list source directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && isY4M(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
