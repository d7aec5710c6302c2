package works

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dhowden/tag"
	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// FFmpegReaderID is the id of the ffprobe/ffmpeg backed reader.
const FFmpegReaderID = "ffmpeg"

var mediaExtensions = map[string]bool{
	".mp4": true, ".m4v": true, ".mkv": true, ".mov": true, ".avi": true,
	".ts": true, ".m2ts": true, ".mts": true, ".mpg": true, ".mpeg": true,
	".vob": true, ".webm": true, ".wmv": true, ".flv": true,
}

// Commands are package variables so tests can stub them.
var (
	ffprobePath = "ffprobe"
	ffmpegPath  = "ffmpeg"
	execCommand = exec.CommandContext
)

type ffmpegReaderObject struct{}

func (ffmpegReaderObject) Info() types.Info {
	return types.Info{ID: FFmpegReaderID, Name: "FFmpeg", Kind: types.KindReader, Order: 50}
}

func (ffmpegReaderObject) CanRead(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	if !mediaExtensions[strings.ToLower(filepath.Ext(path))] {
		return false
	}
	_, err = exec.LookPath(ffprobePath)
	return err == nil
}

func (ffmpegReaderObject) NewReader() types.Reader { return &ffmpegReader{} }

type probeStream struct {
	Index        int               `json:"index"`
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	SampleAspect string            `json:"sample_aspect_ratio"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	RFrameRate   string            `json:"r_frame_rate"`
	NbFrames     string            `json:"nb_frames"`
	FieldOrder   string            `json:"field_order"`
	Channels     int               `json:"channels"`
	SampleRate   string            `json:"sample_rate"`
	BitRate      string            `json:"bit_rate"`
	Tags         map[string]string `json:"tags"`
	Disposition  map[string]int    `json:"disposition"`
}

// probeOutput is the subset of ffprobe's JSON the reader uses.
type probeOutput struct {
	Format struct {
		Duration string            `json:"duration"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Streams  []probeStream `json:"streams"`
	Chapters []struct {
		ID        int               `json:"id"`
		StartTime string            `json:"start_time"`
		EndTime   string            `json:"end_time"`
		Tags      map[string]string `json:"tags"`
	} `json:"chapters"`
}

// ffmpegReader exposes a single media file as one title. Frames are decoded
// by an ffmpeg child process and read back as a yuv4mpegpipe stream.
type ffmpegReader struct {
	path string
}

func (r *ffmpegReader) Open(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return eErrors.ScanError("open_source", eErrors.ErrUnreadableSource).WithDetail("path", path)
	}
	r.path = path
	return nil
}

func (r *ffmpegReader) Name() string {
	return strings.TrimSuffix(filepath.Base(r.path), filepath.Ext(r.path))
}

func (r *ffmpegReader) TitleCount() int { return 1 }

func (r *ffmpegReader) Probe(ctx context.Context, index int) (*types.Title, error) {
	if index != 1 {
		return nil, eErrors.ScanError("probe_title", eErrors.ErrTitleNotFound).WithDetail("index", index)
	}
	cmd := execCommand(ctx, ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-show_chapters",
		r.path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, eErrors.ScanError("probe_title", fmt.Errorf("ffprobe failed: %w", err)).WithDetail("path", r.path)
	}
	var probe probeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, eErrors.ScanError("probe_title", fmt.Errorf("failed to parse ffprobe output: %w", err))
	}
	title := titleFromProbe(&probe)
	title.Index = index
	title.Path = r.path
	title.Reader = FFmpegReaderID
	title.Name = r.tagName()
	if title.Geometry.Width == 0 {
		return nil, eErrors.ScanError("probe_title", eErrors.ErrUnreadableSource).
			WithDetail("path", r.path).
			WithDetail("reason", "no video stream")
	}
	return title, nil
}

// tagName returns the container's title tag, falling back to the file name.
func (r *ffmpegReader) tagName() string {
	f, err := os.Open(r.path)
	if err == nil {
		defer f.Close()
		if m, err := tag.ReadFrom(f); err == nil && strings.TrimSpace(m.Title()) != "" {
			return strings.TrimSpace(m.Title())
		}
	}
	return r.Name()
}

func titleFromProbe(p *probeOutput) *types.Title {
	t := &types.Title{VideoCodec: RawVideoCodec}
	if secs, err := strconv.ParseFloat(p.Format.Duration, 64); err == nil {
		t.Duration = time.Duration(secs * float64(time.Second))
	}

	var audioLang string
	for _, s := range p.Streams {
		switch s.CodecType {
		case "video":
			if t.Geometry.Width != 0 || s.Disposition["attached_pic"] == 1 {
				continue
			}
			t.SourceCodec = s.CodecName
			t.Geometry = types.Geometry{Width: s.Width, Height: s.Height, PAR: types.Rational{Num: 1, Den: 1}}
			if par, err := parseRatio(s.SampleAspect); err == nil && par.Valid() {
				t.Geometry.PAR = par
			}
			rate := s.AvgFrameRate
			if rate == "" || rate == "0/0" {
				rate = s.RFrameRate
			}
			if r, err := parseRatio(strings.Replace(rate, "/", ":", 1)); err == nil && r.Valid() {
				t.FrameRate = r
			}
			if n, err := strconv.ParseInt(s.NbFrames, 10, 64); err == nil {
				t.FrameCount = n
			}
			switch s.FieldOrder {
			case "tt", "bb", "tb", "bt":
				t.Interlaced = true
			}
		case "audio":
			sr, _ := strconv.Atoi(s.SampleRate)
			br, _ := strconv.Atoi(s.BitRate)
			lang := s.Tags["language"]
			if audioLang == "" {
				audioLang = lang
			}
			t.Audio = append(t.Audio, types.AudioTrack{
				Index:      len(t.Audio) + 1,
				Codec:      s.CodecName,
				Language:   lang,
				Channels:   s.Channels,
				SampleRate: sr,
				Bitrate:    br,
			})
		case "subtitle":
			t.Subtitles = append(t.Subtitles, types.SubtitleTrack{
				Index:    len(t.Subtitles) + 1,
				Language: s.Tags["language"],
				Format:   s.CodecName,
				Forced:   s.Disposition["forced"] == 1,
				Source:   "container",
			})
		}
	}
	if !t.FrameRate.Valid() {
		t.FrameRate = types.Rational{Num: 25, Den: 1}
	}
	if t.FrameCount == 0 {
		t.FrameCount = int64(t.Duration) * int64(t.FrameRate.Num) / (int64(time.Second) * int64(t.FrameRate.Den))
	}

	for _, sub := range t.Subtitles {
		if audioLang != "" && sub.Language == audioLang {
			t.ForeignAudioCandidates = append(t.ForeignAudioCandidates, sub.Index)
		}
	}

	for i, c := range p.Chapters {
		start, _ := strconv.ParseFloat(c.StartTime, 64)
		end, _ := strconv.ParseFloat(c.EndTime, 64)
		name := c.Tags["title"]
		if name == "" {
			name = fmt.Sprintf("Chapter %d", i+1)
		}
		t.Chapters = append(t.Chapters, types.Chapter{
			Index:    i + 1,
			Name:     name,
			Start:    time.Duration(start * float64(time.Second)),
			Duration: time.Duration((end - start) * float64(time.Second)),
		})
	}
	if len(t.Chapters) == 0 {
		t.Chapters = []types.Chapter{{Index: 1, Name: "Chapter 1", Duration: t.Duration}}
	}
	return t
}

func (r *ffmpegReader) decodeArgs(at time.Duration, frames int) []string {
	args := []string{"-v", "error", "-nostdin"}
	if at > 0 {
		args = append(args, "-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64))
	}
	args = append(args, "-i", r.path, "-map", "0:v:0")
	if frames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(frames))
	}
	return append(args, "-pix_fmt", "yuv420p", "-f", "yuv4mpegpipe", "-")
}

func (r *ffmpegReader) Frame(ctx context.Context, index int, at time.Duration) (*types.Buffer, error) {
	s, err := r.start(ctx, r.decodeArgs(at, 1))
	if err != nil {
		return nil, err
	}
	defer s.Close()
	buf, err := s.Next(ctx)
	if err != nil {
		return nil, eErrors.PreviewError("decode_frame", err).WithDetail("at", at)
	}
	buf.PTS = types.DurationToTicks(at)
	return buf, nil
}

func (r *ffmpegReader) Stream(ctx context.Context, title *types.Title) (types.PacketStream, error) {
	return r.start(ctx, r.decodeArgs(0, 0))
}

// CountSubtitleEvents counts the packets of one subtitle track.
func (r *ffmpegReader) CountSubtitleEvents(ctx context.Context, title *types.Title, track int) (int, error) {
	cmd := execCommand(ctx, ffprobePath,
		"-v", "quiet",
		"-select_streams", fmt.Sprintf("s:%d", track-1),
		"-count_packets",
		"-show_entries", "stream=nb_read_packets",
		"-of", "csv=p=0",
		title.Path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe subtitle count: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("parse subtitle count: %w", err)
	}
	return n, nil
}

func (r *ffmpegReader) Close() error { return nil }

func (r *ffmpegReader) start(ctx context.Context, args []string) (*pipeStream, error) {
	cctx, cancel := context.WithCancel(ctx)
	cmd := execCommand(cctx, ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, eErrors.PipelineError("start_decoder", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, eErrors.PipelineError("start_decoder", err)
	}
	br := bufio.NewReaderSize(stdout, 1<<20)
	hdr, err := readY4MHeader(br)
	if err != nil {
		cancel()
		cmd.Wait()
		return nil, eErrors.PipelineError("start_decoder", err).WithDetail("path", r.path)
	}
	return &pipeStream{cmd: cmd, cancel: cancel, br: br, hdr: hdr}, nil
}

// pipeStream reads y4m frames from a running ffmpeg process.
type pipeStream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	br     *bufio.Reader
	hdr    y4mHeader
	n      int64
}

func (s *pipeStream) Next(ctx context.Context) (*types.Buffer, error) {
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

func (s *pipeStream) Close() error {
	s.cancel()
	s.cmd.Wait()
	return nil
}
