// Package pipeline runs one pass job through reader, decoder, filter chain,
// encoder and muxer stages on the calling goroutine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/preview"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/registry"
	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// Default stage ids used when a job leaves them empty.
const (
	DefaultEncoder = "rawvideo"
	DefaultMuxer   = "y4m"
	NullMuxer      = "null"
)

// Control connects a running job to the scheduler.
type Control interface {
	// Checkpoint is called before each source buffer is consumed. It blocks
	// while the job is paused and fails with ErrCancelled once a stop has
	// been requested. update, when non-nil, is applied to the work progress
	// atomically with the pause check.
	Checkpoint(update func(*types.WorkProgress)) error
	// SetMuxing flags that the job is finalizing its output.
	SetMuxing(muxing bool)
}

// Result holds the statistics of a finished pass.
type Result struct {
	Frames     int64
	OutFrames  int64
	TotalTicks int64
	VRate      types.Rational
	Output     string
	Elapsed    time.Duration

	// SelectedSubtitle is set by a foreign audio search pass.
	SelectedSubtitle *types.SubtitleTrack
}

// Runner builds and drives stage chains.
type Runner struct {
	registry *registry.Registry
	hardware func() bool
	logger   hclog.Logger
}

// NewRunner creates a runner resolving stages from reg. hardware reports
// whether hardware decoders may be selected.
func NewRunner(reg *registry.Registry, hardware func() bool, logger hclog.Logger) *Runner {
	if hardware == nil {
		hardware = func() bool { return false }
	}
	return &Runner{
		registry: reg,
		hardware: hardware,
		logger:   logger.Named("pipeline"),
	}
}

type stageEntry struct {
	stage types.Stage
	info  types.Info
}

// Run executes job. interjob is the session's record as of job start.
func (r *Runner) Run(ctx context.Context, job *types.Job, interjob types.InterjobData, ctl Control) (res *Result, err error) {
	defer eErrors.Recover("run_job", &err)

	if job == nil || job.Title == nil {
		return nil, eErrors.ValidationError("run_job", eErrors.ErrInvalidInput).WithDetail("reason", "job has no title")
	}
	if job.Pass() == types.PassSubtitleScan {
		return r.runSubtitleScan(ctx, job, ctl)
	}

	log := r.logger.With("job_id", job.ID, "sequence", job.Sequence.String())
	title := job.Title
	job = withSelectedSubtitle(job, interjob)

	win, err := chapterWindow(job, title)
	if err != nil {
		return nil, err
	}

	reader, err := r.registry.ReaderByID(title.Reader)
	if err != nil {
		return nil, eErrors.PipelineError("init", err)
	}
	if err := reader.Open(ctx, title.Path); err != nil {
		return nil, eErrors.PipelineError("read", err)
	}
	defer reader.Close()

	stream, err := reader.Stream(ctx, title)
	if err != nil {
		return nil, eErrors.PipelineError("read", err)
	}
	defer stream.Close()

	rate := job.FrameRate
	if !rate.Valid() {
		rate = title.FrameRate
	}
	sc := types.StageContext{
		Job:       job,
		Title:     title,
		Output:    preview.SetAnamorphicSize(title.Geometry, job.Geometry),
		FrameRate: rate,
	}
	if job.Pass() == types.PassSecond && interjob.FirstPassFor(job.Sequence) {
		fp := interjob
		sc.FirstPass = &fp
		log.Debug("second pass has first pass statistics", "frames", fp.OutFrameCount, "vrate", fp.VRate.String())
	}

	muxerID := job.Muxer
	if muxerID == "" {
		muxerID = DefaultMuxer
	}
	var output string
	if job.Pass() == types.PassFirst {
		muxerID = NullMuxer
	} else {
		if job.Destination == "" {
			return nil, eErrors.ValidationError("run_job", eErrors.ErrInvalidInput).WithDetail("reason", "no destination")
		}
		output = job.Destination
		sc.Destination = partialPath(output)
	}

	stages, err := r.buildChain(job, muxerID)
	if err != nil {
		return nil, eErrors.PipelineError("init", err)
	}
	if err := initStages(stages, sc, log); err != nil {
		closeStages(stages, log)
		removePartial(sc.Destination)
		return nil, eErrors.PipelineError("init", err)
	}

	log.Info("job started",
		"title", title.Index,
		"pass", job.Pass().String(),
		"stages", len(stages),
		"width", sc.Output.Width,
		"height", sc.Output.Height)

	if win.partial {
		log.Debug("encoding chapter range",
			"first", job.ChapterStart,
			"last", job.ChapterEnd,
			"from", types.TicksToDuration(win.from),
			"to", types.TicksToDuration(win.to))
	}

	started := time.Now()
	res = &Result{Output: output}
	m := &meter{res: res, total: win.frames(title), started: started}

	err = r.drive(ctx, stream, stages, ctl, m, win)
	if err == nil {
		ctl.SetMuxing(true)
		err = flush(stages, m)
	}
	if cerr := closeStages(stages, log); err == nil && cerr != nil {
		err = eErrors.PipelineError("close", cerr)
	}
	ctl.SetMuxing(false)

	if err != nil {
		removePartial(sc.Destination)
		return nil, err
	}
	if sc.Destination != "" {
		if err := os.Rename(sc.Destination, output); err != nil {
			removePartial(sc.Destination)
			return nil, eErrors.StorageError("finalize_output", err).WithDetail("path", output)
		}
	}

	res.Elapsed = time.Since(started)
	res.VRate = measureRate(res.OutFrames, res.TotalTicks, rate)
	log.Info("job finished",
		"frames", res.Frames,
		"out_frames", res.OutFrames,
		"vrate", res.VRate.String(),
		"elapsed", res.Elapsed)
	return res, nil
}

func (r *Runner) buildChain(job *types.Job, muxerID string) ([]stageEntry, error) {
	var stages []stageEntry

	var dec types.Stage
	var decInfo types.Info
	var err error
	if job.Decoder != "" {
		dec, decInfo, err = r.registry.NewStage(types.KindDecoder, job.Decoder)
	} else {
		var obj types.StageObject
		obj, err = r.registry.DecoderFor(job.Title.VideoCodec, r.hardware())
		if err == nil {
			dec, decInfo = obj.NewStage(), obj.Info()
		}
	}
	if err != nil {
		return nil, err
	}
	stages = append(stages, stageEntry{dec, decInfo})

	for _, f := range job.Filters {
		st, info, err := r.registry.NewStage(types.KindFilter, f.ID)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stageEntry{st, info})
	}

	encID := job.Encoder
	if encID == "" {
		encID = DefaultEncoder
	}
	enc, encInfo, err := r.registry.NewStage(types.KindEncoder, encID)
	if err != nil {
		return nil, err
	}
	stages = append(stages, stageEntry{enc, encInfo})

	mux, muxInfo, err := r.registry.NewStage(types.KindMuxer, muxerID)
	if err != nil {
		return nil, err
	}
	return append(stages, stageEntry{mux, muxInfo}), nil
}

// initStages initializes stages in order. Filter settings come from the job's
// filter specs, which line up with the stages between decoder and encoder.
func initStages(stages []stageEntry, base types.StageContext, log hclog.Logger) error {
	for i, s := range stages {
		sc := base
		sc.Logger = log.Named(s.info.ID)
		if s.info.Kind == types.KindFilter {
			sc.Settings = base.Job.Filters[i-1].Settings
		}
		if err := s.stage.Init(&sc); err != nil {
			return fmt.Errorf("%s %s: %w", s.info.Kind, s.info.ID, err)
		}
	}
	return nil
}

func closeStages(stages []stageEntry, log hclog.Logger) error {
	var errs []error
	for _, s := range stages {
		if err := s.stage.Close(); err != nil {
			log.Warn("stage close failed", "stage", s.info.ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// window is the PTS range [from, to) a job encodes.
type window struct {
	from, to int64
	partial  bool
}

// chapterWindow maps the job's chapter selection to a PTS window. Zero
// bounds select the whole title.
func chapterWindow(job *types.Job, title *types.Title) (window, error) {
	n := len(title.Chapters)
	first, last := job.ChapterStart, job.ChapterEnd
	if (first == 0 && last == 0) || n == 0 {
		return window{}, nil
	}
	if first < 1 || last < first || last > n {
		return window{}, eErrors.ValidationError("run_job", eErrors.ErrInvalidInput).
			WithDetail("chapter_start", first).
			WithDetail("chapter_end", last).
			WithDetail("chapters", n)
	}
	if first == 1 && last == n {
		return window{}, nil
	}
	end := title.Chapters[last-1]
	return window{
		from:    types.DurationToTicks(title.Chapters[first-1].Start),
		to:      types.DurationToTicks(end.Start + end.Duration),
		partial: true,
	}, nil
}

func (w window) contains(pts int64) bool {
	return !w.partial || pts >= w.from && pts < w.to
}

// frames estimates the number of source frames inside the window.
func (w window) frames(title *types.Title) int64 {
	if !w.partial || title.Ticks() <= 0 {
		return title.FrameCount
	}
	return title.FrameCount * (w.to - w.from) / title.Ticks()
}

func (r *Runner) drive(ctx context.Context, stream types.PacketStream, stages []stageEntry, ctl Control, m *meter, win window) error {
	var pending func(*types.WorkProgress)
	for {
		if err := ctl.Checkpoint(pending); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return eErrors.PipelineError("read", errors.Join(eErrors.ErrCancelled, err))
		}
		pkt, err := stream.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eErrors.PipelineError("read", err)
		}
		if win.partial && pkt.PTS >= win.to {
			return nil
		}
		if !win.contains(pkt.PTS) {
			continue
		}
		m.res.Frames++
		if err := push(stages, 0, pkt, m); err != nil {
			return err
		}
		pending = m.progress()
	}
}

// push hands buf to stage i and forwards its output down the chain.
func push(stages []stageEntry, i int, buf *types.Buffer, m *meter) error {
	if i == len(stages)-1 {
		m.muxed(buf)
	}
	out, err := stages[i].stage.Process(buf)
	if err != nil {
		return eErrors.PipelineError("process", errors.Join(eErrors.ErrStageFailed, err)).
			WithDetail("stage", stages[i].info.ID)
	}
	for _, b := range out {
		if b == nil || b.EOF || i+1 == len(stages) {
			continue
		}
		if err := push(stages, i+1, b, m); err != nil {
			return err
		}
	}
	return nil
}

// flush sends end of stream to every stage in order so buffered output
// drains into the later stages before they flush themselves.
func flush(stages []stageEntry, m *meter) error {
	for i := range stages {
		out, err := stages[i].stage.Process(types.EOFBuffer())
		if err != nil {
			return eErrors.PipelineError("flush", errors.Join(eErrors.ErrStageFailed, err)).
				WithDetail("stage", stages[i].info.ID)
		}
		for _, b := range out {
			if b == nil || b.EOF || i+1 == len(stages) {
				continue
			}
			if err := push(stages, i+1, b, m); err != nil {
				return err
			}
		}
	}
	return nil
}

// meter accumulates counters and produces progress updates.
type meter struct {
	res     *Result
	total   int64
	started time.Time
	first   int64
	end     int64
	seen    bool

	lastAt     time.Time
	lastFrames int64
}

func (m *meter) muxed(buf *types.Buffer) {
	if buf.EOF {
		return
	}
	m.res.OutFrames++
	if !m.seen || buf.PTS < m.first {
		m.first = buf.PTS
	}
	if e := buf.PTS + buf.Duration; !m.seen || e > m.end {
		m.end = e
	}
	m.seen = true
	m.res.TotalTicks = m.end - m.first
}

func (m *meter) progress() func(*types.WorkProgress) {
	now := time.Now()
	frames := m.res.Frames
	elapsed := now.Sub(m.started).Seconds()

	var rate float64
	if !m.lastAt.IsZero() {
		if dt := now.Sub(m.lastAt).Seconds(); dt > 0 {
			rate = float64(frames-m.lastFrames) / dt
		}
	}
	m.lastAt, m.lastFrames = now, frames

	var avg float64
	if elapsed > 0 {
		avg = float64(frames) / elapsed
	}
	var progress float64
	var eta int64
	if m.total > 0 {
		progress = float64(frames) / float64(m.total)
		if progress > 1 {
			progress = 1
		}
		if avg > 0 && frames < m.total {
			eta = int64(float64(m.total-frames) / avg)
		}
	}
	return func(w *types.WorkProgress) {
		w.Frames = frames
		w.Progress = progress
		w.Rate = rate
		w.RateAvg = avg
		w.ETASeconds = eta
	}
}

// measureRate derives the output frame rate from muxed frames and their
// span in ticks. Results within 0.1% of the nominal rate snap to it.
func measureRate(frames, ticks int64, nominal types.Rational) types.Rational {
	if frames <= 0 || ticks <= 0 {
		return nominal
	}
	measured := types.ReduceInt64(frames*types.TicksPerSecond, ticks)
	if nominal.Valid() {
		n, m := nominal.Float(), measured.Float()
		if d := (m - n) / n; d < 0.001 && d > -0.001 {
			return nominal
		}
	}
	return measured
}

// withSelectedSubtitle returns job with the foreign audio search result of
// its own logical encode added to the subtitle selection.
func withSelectedSubtitle(job *types.Job, d types.InterjobData) *types.Job {
	if d.SelectSubtitle == nil || d.LastJob.Logical() != job.Sequence.Logical() {
		return job
	}
	for _, s := range job.Subtitles {
		if s == d.SelectSubtitle.Index {
			return job
		}
	}
	c := job.Clone()
	c.Subtitles = append(c.Subtitles, d.SelectSubtitle.Index)
	return c
}

func partialPath(dest string) string {
	return filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+".part")
}

func removePartial(path string) {
	if path != "" {
		os.Remove(path)
	}
}
